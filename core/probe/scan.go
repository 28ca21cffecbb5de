package probe

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

// mediaChecker Scanner依赖的探测契约，便于测试替换
type mediaChecker interface {
	IsMedia(ctx context.Context, path string) bool
}

// Scanner 目录扫描器，用goroutine池并发探测候选文件
// 探测并发只加速筛选，不影响后续批处理的严格串行
type Scanner struct {
	checker     mediaChecker
	logger      *zap.Logger
	concurrency int
}

// NewScanner 创建扫描器
func NewScanner(checker mediaChecker, logger *zap.Logger, concurrency int) *Scanner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scanner{checker: checker, logger: logger, concurrency: concurrency}
}

// ScanDir 列出目录下（不含子目录）的全部媒体文件，结果按文件名排序
func (s *Scanner) ScanDir(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		candidates = append(candidates, filepath.Join(dir, e.Name()))
	}
	sort.Strings(candidates)

	return s.Filter(ctx, candidates)
}

// Filter 并发探测候选路径，返回其中的媒体文件并保持输入顺序
func (s *Scanner) Filter(ctx context.Context, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	pool, err := ants.NewPool(s.concurrency)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	keep := make([]bool, len(candidates))
	var wg sync.WaitGroup

	for i, path := range candidates {
		i, path := i, path
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			keep[i] = s.checker.IsMedia(ctx, path)
		})
		if submitErr != nil {
			// 池已关闭才会走到这里，当前文件按非媒体处理
			wg.Done()
			s.logger.Warn("提交探测任务失败",
				zap.String("path", path), zap.Error(submitErr))
		}
	}
	wg.Wait()

	var media []string
	for i, path := range candidates {
		if keep[i] {
			media = append(media, path)
		}
	}

	s.logger.Info("目录扫描完成",
		zap.Int("candidates", len(candidates)), zap.Int("media", len(media)))
	return media, nil
}
