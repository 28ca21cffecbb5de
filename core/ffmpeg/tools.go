package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"vidly/config"
)

// ErrToolUnavailable 外部工具不可用，批处理开始前即为致命错误
type ErrToolUnavailable struct {
	Tool   string
	Reason string
}

func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("外部工具不可用 %q: %s", e.Tool, e.Reason)
}

// Locator 外部工具定位器，带可用性缓存
type Locator struct {
	cfg    *config.ToolsConfig
	logger *zap.Logger

	cache      map[string]bool
	cacheMutex sync.RWMutex
}

// NewLocator 创建工具定位器
func NewLocator(cfg *config.ToolsConfig, logger *zap.Logger) *Locator {
	return &Locator{
		cfg:    cfg,
		logger: logger,
		cache:  make(map[string]bool),
	}
}

// FFmpeg 解析可用的ffmpeg路径
func (l *Locator) FFmpeg() (string, error) {
	return l.resolve(l.cfg.FFmpegPath)
}

// FFprobe 解析可用的ffprobe路径
func (l *Locator) FFprobe() (string, error) {
	return l.resolve(l.cfg.FFprobePath)
}

// resolve 按顺序尝试：配置目录下的bin/、绝对路径、PATH查找
func (l *Locator) resolve(name string) (string, error) {
	if dir := l.cfg.Directory; dir != "" {
		// ffmpeg二进制不允许位于受限系统目录
		if strings.Contains(strings.ToLower(dir), "system32") {
			return "", &ErrToolUnavailable{Tool: name, Reason: "目录位于system32下"}
		}

		candidate := filepath.Join(dir, "bin", name)
		if runtime.GOOS == "windows" {
			candidate += ".exe"
		}
		if _, err := os.Stat(candidate); err == nil {
			if l.available(candidate) {
				return candidate, nil
			}
			return "", &ErrToolUnavailable{Tool: candidate, Reason: "无法执行"}
		}
		l.logger.Debug("配置目录下未找到工具，回退到PATH查找",
			zap.String("tool", name), zap.String("dir", dir))
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", &ErrToolUnavailable{Tool: name, Reason: "PATH中未找到，请从www.ffmpeg.org下载"}
	}

	if !l.available(path) {
		return "", &ErrToolUnavailable{Tool: path, Reason: "无法执行"}
	}
	return path, nil
}

// available 实际检查工具是否可执行，结果缓存
func (l *Locator) available(path string) bool {
	l.cacheMutex.RLock()
	if ok, exists := l.cache[path]; exists {
		l.cacheMutex.RUnlock()
		return ok
	}
	l.cacheMutex.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := exec.CommandContext(ctx, path, "-version").Run()
	ok := err == nil
	if !ok {
		l.logger.Debug("工具不可用", zap.String("tool", path), zap.Error(err))
	}

	l.cacheMutex.Lock()
	l.cache[path] = ok
	l.cacheMutex.Unlock()
	return ok
}
