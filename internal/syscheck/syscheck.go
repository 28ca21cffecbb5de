package syscheck

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"
)

// EnsureDiskSpace 检查输出目录所在分区的剩余空间
// 低于minFreeMB时返回错误，批处理不应启动
func EnsureDiskSpace(path string, minFreeMB uint64, logger *zap.Logger) error {
	if minFreeMB == 0 {
		return nil
	}

	if path == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	// 目录可能尚未创建，向上找最近存在的祖先
	probe := abs
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}

	usage, err := disk.Usage(probe)
	if err != nil {
		// 拿不到磁盘信息不阻塞批处理，只记录
		logger.Debug("磁盘空间检查失败", zap.String("path", probe), zap.Error(err))
		return nil
	}

	freeMB := usage.Free / (1024 * 1024)
	logger.Debug("磁盘空间检查",
		zap.String("path", probe),
		zap.Uint64("free_mb", freeMB),
		zap.Float64("used_percent", usage.UsedPercent))

	if freeMB < minFreeMB {
		return fmt.Errorf("输出目录剩余空间不足: %dMB，至少需要%dMB", freeMB, minFreeMB)
	}
	return nil
}
