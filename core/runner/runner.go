package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"vidly/config"
	"vidly/core/ffmpeg"
	"vidly/core/probe"
	"vidly/core/subtitle"
)

// Surface 显示面契约：消费进度与结果，生产覆盖确认
type Surface interface {
	OnLabel(text string)
	OnProgress(percent int)
	ConfirmOverwrite(path string) bool
	OnError(message string)
	OnSuccess()
}

// mediaInfo Runner需要的探测能力
type mediaInfo interface {
	Probe(ctx context.Context, path string) (*probe.Result, error)
}

// subtitleNormalizer Runner需要的字幕归一化能力
type subtitleNormalizer interface {
	Normalize(path string) error
}

// Runner 单个Job的执行器：构建命令、运行可监视子进程、
// 转发进度并在取消/失败/回退之间裁决
type Runner struct {
	launcher   ffmpeg.Launcher
	info       mediaInfo
	normalizer subtitleNormalizer
	surface    Surface
	logger     *zap.Logger

	ffmpegPath string
	overwrite  config.OverwritePolicy
}

// NewRunner 创建Job执行器，ffmpegPath为已解析的可执行路径
func NewRunner(
	launcher ffmpeg.Launcher,
	info mediaInfo,
	normalizer subtitleNormalizer,
	surface Surface,
	logger *zap.Logger,
	ffmpegPath string,
	overwrite config.OverwritePolicy,
) *Runner {
	return &Runner{
		launcher:   launcher,
		info:       info,
		normalizer: normalizer,
		surface:    surface,
		logger:     logger,
		ffmpegPath: ffmpegPath,
		overwrite:  overwrite,
	}
}

// Run 执行一个Job直到终态
func (r *Runner) Run(ctx context.Context, job Job, rep *Reporter) Outcome {
	start := time.Now()
	rep.Start()

	commands, totalSeconds, err := r.plan(ctx, job)
	if err != nil {
		return r.fail(job, rep, start, err)
	}

	var outputs []string
	for _, cmd := range commands {
		if _, statErr := os.Stat(cmd.Output); statErr == nil {
			if !r.confirmOverwrite(cmd.Output) {
				r.logger.Info("输出已存在，跳过",
					zap.String("output", cmd.Output))
				continue
			}
		}

		verdict, runErr := r.executeWithFallback(ctx, cmd, totalSeconds, rep)
		if verdict != VerdictContinue {
			// 取消路径：清掉写了一半的输出
			_ = os.Remove(cmd.Output)
			state := StateCancelled
			kind := OutcomeCancelled
			if verdict == VerdictCancelAll {
				state = StateCancelledAll
				kind = OutcomeCancelledAll
			}
			rep.Finish(state)
			return Outcome{
				Input: job.Input, Op: job.Op, Kind: kind,
				Elapsed: time.Since(start),
			}
		}
		if runErr != nil {
			_ = os.Remove(cmd.Output)
			return r.fail(job, rep, start, runErr)
		}
		outputs = append(outputs, cmd.Output)
	}

	if len(outputs) == 0 {
		// 全部输出都被拒绝覆盖，没有运行任何子进程
		rep.Finish(StateCompleted)
		return Outcome{
			Input: job.Input, Op: job.Op, Kind: OutcomeSkippedExisting,
			Elapsed: time.Since(start),
		}
	}

	outputs, err = r.finalize(job, outputs)
	if err != nil {
		return r.fail(job, rep, start, err)
	}

	rep.Finish(StateCompleted)
	return Outcome{
		Input: job.Input, Op: job.Op, Kind: OutcomeSuccess,
		Outputs: outputs, Elapsed: time.Since(start),
	}
}

// plan 按操作类型构建命令序列，并返回用于进度换算的媒体时长
func (r *Runner) plan(ctx context.Context, job Job) ([]ffmpeg.Command, float64, error) {
	var totalSeconds float64
	if res, err := r.info.Probe(ctx, job.Input); err == nil {
		totalSeconds = res.Duration()
	} else {
		// 时长未知只影响进度密度，不阻止执行
		r.logger.Debug("无法获取媒体时长", zap.String("input", job.Input), zap.Error(err))
	}

	switch job.Op {
	case OpConvertAudio:
		return []ffmpeg.Command{
			ffmpeg.ConvertAudio(r.ffmpegPath, job.Input, job.OutputDir, job.OutputExt),
		}, totalSeconds, nil

	case OpConvertVideo:
		if strings.EqualFold(job.OutputExt, ".mp3") {
			return nil, 0, fmt.Errorf("无法把视频转换成mp3容器")
		}
		return []ffmpeg.Command{
			ffmpeg.ConvertVideo(r.ffmpegPath, job.Input, job.OutputDir, job.OutputExt),
		}, totalSeconds, nil

	case OpRetitle:
		return []ffmpeg.Command{
			ffmpeg.Retitle(r.ffmpegPath, job.Input),
		}, totalSeconds, nil

	case OpMergeSubtitle:
		sidecar := subtitle.SidecarFor(job.Input)
		if err := r.normalizer.Normalize(sidecar); err != nil {
			return nil, 0, err
		}
		return []ffmpeg.Command{
			ffmpeg.MergeSubtitle(r.ffmpegPath, job.Input, sidecar, job.Language),
		}, totalSeconds, nil

	case OpExtractSubtitle:
		res, err := r.info.Probe(ctx, job.Input)
		if err != nil {
			return nil, 0, fmt.Errorf("枚举字幕流失败: %w", err)
		}
		subs := res.SubtitleStreams()
		if len(subs) == 0 {
			return nil, 0, fmt.Errorf("未发现内嵌字幕流: %s", job.Input)
		}
		cmds := make([]ffmpeg.Command, 0, len(subs))
		for i, s := range subs {
			cmds = append(cmds, ffmpeg.ExtractSubtitle(r.ffmpegPath, job.Input, i, s.Tags.Language))
		}
		return cmds, totalSeconds, nil

	default:
		return nil, 0, fmt.Errorf("未知操作类型: %d", job.Op)
	}
}

// executeWithFallback 运行主命令，运行时失败且声明了回退命令时重试一次
func (r *Runner) executeWithFallback(
	ctx context.Context, cmd ffmpeg.Command, totalSeconds float64, rep *Reporter,
) (Verdict, error) {
	verdict, err := r.runOnce(ctx, cmd.Args, totalSeconds, rep)
	if verdict != VerdictContinue || err == nil {
		return verdict, err
	}

	if !cmd.HasFallback() {
		return VerdictContinue, err
	}

	r.logger.Warn("主命令失败，尝试回退命令",
		zap.String("output", cmd.Output), zap.Error(err))
	_ = os.Remove(cmd.Output)

	return r.runOnce(ctx, cmd.Fallback, totalSeconds, rep)
}

// runOnce 启动一次子进程并消费其进度流直到退出
// 每个tick都把裁决权交给Reporter；取消裁决触发优雅退出
func (r *Runner) runOnce(
	ctx context.Context, args []string, totalSeconds float64, rep *Reporter,
) (Verdict, error) {
	proc, err := r.launcher.Start(ctx, args, totalSeconds)
	if err != nil {
		return VerdictContinue, err
	}

	verdict := VerdictContinue
	for pct := range proc.Progress() {
		v := rep.Publish(pct)
		if v != VerdictContinue {
			verdict = v
			proc.Quit()
			break
		}
	}

	// 取消路径下排空残余tick，让生产goroutine收尾
	for range proc.Progress() {
	}

	waitErr := proc.Wait()
	if verdict != VerdictContinue {
		// 取消导致的非零退出不算运行时错误
		return verdict, nil
	}
	if waitErr != nil {
		return VerdictContinue, fmt.Errorf("子进程运行失败: %w%s", waitErr, stderrTail(proc.Stderr()))
	}
	return VerdictContinue, nil
}

// finalize 执行操作的收尾步骤，返回最终输出路径
func (r *Runner) finalize(job Job, outputs []string) ([]string, error) {
	switch job.Op {
	case OpRetitle:
		// 破坏性替换：原文件删除，mod_临时文件顶替其位置
		temp := outputs[0]
		if err := os.Remove(job.Input); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("删除原文件失败: %w", err)
		}
		if err := os.Rename(temp, job.Input); err != nil {
			return nil, fmt.Errorf("替换原文件失败: %w", err)
		}
		return []string{job.Input}, nil

	case OpMergeSubtitle:
		// 合并成功后原视频和字幕文件都不再需要
		if err := os.Remove(job.Input); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("删除原文件失败: %w", err)
		}
		_ = os.Remove(subtitle.SidecarFor(job.Input))
		return outputs, nil

	default:
		return outputs, nil
	}
}

// fail 统一的失败收尾：记日志、上报显示面、落终态
func (r *Runner) fail(job Job, rep *Reporter, start time.Time, err error) Outcome {
	var notFound *subtitle.NotFoundError
	if errors.As(err, &notFound) {
		// 字幕缺失必须上报而不是静默跳过，原文件保持不动
		r.logger.Warn("字幕文件缺失", zap.String("input", job.Input))
	} else {
		r.logger.Error("Job执行失败",
			zap.String("input", job.Input),
			zap.String("op", job.Op.String()),
			zap.Error(err))
	}

	r.surface.OnError(err.Error())
	rep.Finish(StateFailed)
	return Outcome{
		Input: job.Input, Op: job.Op, Kind: OutcomeFailed,
		Reason: err.Error(), Elapsed: time.Since(start),
	}
}

// confirmOverwrite 按策略决定是否覆盖已存在的输出
func (r *Runner) confirmOverwrite(path string) bool {
	switch r.overwrite {
	case config.OverwriteAlways:
		return true
	case config.OverwriteNever:
		return false
	default:
		return r.surface.ConfirmOverwrite(path)
	}
}

// stderrTail 截取stderr末尾若干行附在错误信息后
func stderrTail(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return ""
	}
	lines := strings.Split(stderr, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return "; " + strings.Join(lines, " | ")
}
