package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"vidly/config"
	"vidly/core/ffmpeg"
)

// Controller 批处理编排：严格按输入顺序串行派发Job，
// 收集每个文件的终态，并在取消整批后停止派发
type Controller struct {
	runner  *Runner
	surface Surface
	logger  *zap.Logger
	journal *Journal

	outputDir string
	outputExt string
	language  string

	mu        sync.Mutex
	active    *Reporter
	cancelAll bool
}

// NewController 创建批处理编排器，journal为nil时不记录会话
func NewController(
	runner *Runner,
	surface Surface,
	logger *zap.Logger,
	journal *Journal,
	cfg *config.Config,
) *Controller {
	return &Controller{
		runner:    runner,
		surface:   surface,
		logger:    logger,
		journal:   journal,
		outputDir: cfg.Conversion.OutputDir,
		outputExt: cfg.Conversion.OutputExtension,
		language:  cfg.Subtitle.Language,
	}
}

// RunBatch 依次处理全部输入文件，返回每个文件的终态
// 取消整批时立即停止，此时返回的终态数等于已派发的Job数
func (c *Controller) RunBatch(ctx context.Context, inputs []string, op Operation) []Outcome {
	total := len(inputs)
	outcomes := make([]Outcome, 0, total)

	var sessionID string
	if c.journal != nil {
		sessionID = c.journal.BeginSession(op, total)
	}

	c.logger.Info("批处理开始",
		zap.String("op", op.String()), zap.Int("total", total))

	for i, input := range inputs {
		if ctx.Err() != nil {
			c.logger.Warn("批处理被中断")
			break
		}
		if c.cancelAllRequested() {
			// 取消整批的闩锁：后续Job一律不再派发
			break
		}

		input = c.sanitize(input)

		job := Job{
			Input:     input,
			Op:        op,
			Index:     i + 1,
			Total:     total,
			OutputDir: c.outputDir,
			OutputExt: c.outputExt,
			Language:  c.language,
		}

		c.surface.OnLabel(fmt.Sprintf("%s %q (%d/%d)",
			labelVerb(op), filepath.Base(input), job.Index, total))

		rep := NewReporter(c.surface.OnProgress)
		c.setActive(rep)

		outcome := c.runner.Run(ctx, job, rep)
		c.setActive(nil)

		outcomes = append(outcomes, outcome)
		if c.journal != nil {
			c.journal.Record(sessionID, outcome)
		}

		c.logger.Info("Job结束",
			zap.String("input", filepath.Base(input)),
			zap.String("outcome", outcome.Kind.String()),
			zap.Duration("elapsed", outcome.Elapsed))

		if outcome.Kind == OutcomeCancelledAll {
			c.latchCancelAll()
			break
		}
	}

	c.summarize(outcomes, total)
	if c.journal != nil {
		c.journal.EndSession(sessionID, outcomes)
	}
	return outcomes
}

// Pause 暂停当前Job的进度转发
func (c *Controller) Pause() {
	if rep := c.activeReporter(); rep != nil {
		rep.Pause()
	}
}

// Resume 恢复当前Job的进度转发
func (c *Controller) Resume() {
	if rep := c.activeReporter(); rep != nil {
		rep.Resume()
	}
}

// CancelCurrent 取消当前Job，批处理继续处理后续文件
func (c *Controller) CancelCurrent() {
	if rep := c.activeReporter(); rep != nil {
		rep.CancelCurrent()
	}
}

// CancelAll 取消整个批次：终止当前Job并且不再派发后续Job
// 两个Job之间到达的请求同样生效
func (c *Controller) CancelAll() {
	c.latchCancelAll()
	if rep := c.activeReporter(); rep != nil {
		rep.CancelAll()
	}
}

func (c *Controller) setActive(rep *Reporter) {
	c.mu.Lock()
	c.active = rep
	c.mu.Unlock()
}

func (c *Controller) activeReporter() *Reporter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) latchCancelAll() {
	c.mu.Lock()
	c.cancelAll = true
	c.mu.Unlock()
}

func (c *Controller) cancelAllRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelAll
}

// sanitize 清理文件名中的引号和逗号并重命名实体文件
// 重命名失败时沿用原路径
func (c *Controller) sanitize(input string) string {
	clean := ffmpeg.SanitizePath(input)
	if clean == input {
		return input
	}
	if err := os.Rename(input, clean); err != nil {
		c.logger.Warn("重命名失败，沿用原路径",
			zap.String("input", input), zap.Error(err))
		return input
	}
	return clean
}

// summarize 批处理结束后的聚合上报，逐项列出失败原因
func (c *Controller) summarize(outcomes []Outcome, total int) {
	var success, skipped, cancelled, failed int
	var failures []string

	for _, o := range outcomes {
		switch o.Kind {
		case OutcomeSuccess:
			success++
		case OutcomeSkippedExisting:
			skipped++
		case OutcomeCancelled, OutcomeCancelledAll:
			cancelled++
		case OutcomeFailed:
			failed++
			failures = append(failures,
				fmt.Sprintf("%s: %s", filepath.Base(o.Input), o.Reason))
		}
	}

	c.logger.Info("批处理结束",
		zap.Int("total", total),
		zap.Int("processed", len(outcomes)),
		zap.Int("success", success),
		zap.Int("skipped", skipped),
		zap.Int("cancelled", cancelled),
		zap.Int("failed", failed))

	if failed > 0 {
		msg := fmt.Sprintf("%d个文件处理失败", failed)
		for _, f := range failures {
			msg += "\n  " + f
		}
		c.surface.OnError(msg)
		return
	}
	c.surface.OnSuccess()
}

// labelVerb 进度标签上的操作动词
func labelVerb(op Operation) string {
	switch op {
	case OpConvertAudio, OpConvertVideo:
		return "正在转换"
	case OpRetitle:
		return "正在修改标题"
	case OpMergeSubtitle:
		return "正在合并字幕"
	case OpExtractSubtitle:
		return "正在提取字幕"
	default:
		return "正在处理"
	}
}
