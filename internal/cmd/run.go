package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vidly/config"
	"vidly/core/ffmpeg"
	"vidly/core/probe"
	"vidly/core/runner"
	"vidly/core/subtitle"
	"vidly/internal/syscheck"
	"vidly/internal/ui"
)

// convertCmd 转换命令
var convertCmd = &cobra.Command{
	Use:   "convert [目录或文件...]",
	Short: "批量转换视频或音频格式",
	Long: `批量转换媒体文件格式。

视频转换做流复制重新封装；容器不接受原音频编码时
自动回退为音频aac重编码。音频转换丢弃视频流，
按输出扩展名推断编码。

示例：
  vidly convert ./videos --extension .mp4
  vidly convert --type audio ./music --extension .mp3 -o ./out`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		op := runner.OpConvertVideo
		if convertType == "audio" {
			op = runner.OpConvertAudio
		}
		return runBatch(cmd, args, op)
	},
}

var convertType string

// retitleCmd 改标题命令
var retitleCmd = &cobra.Command{
	Use:   "retitle [目录或文件...]",
	Short: "把内嵌标题改成文件名",
	Long: `把每个媒体文件的内嵌标题元数据改成其文件名。

流复制到mod_前缀的临时文件，成功后原子替换原文件，
这是移动语义：原文件会被新文件顶替。`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, args, runner.OpRetitle)
	},
}

// mergeCmd 字幕合并命令
var mergeCmd = &cobra.Command{
	Use:   "merge [目录或文件...]",
	Short: "把同名字幕合并进mkv容器",
	Long: `把每个视频与同目录同名的.srt字幕合并进新的mkv容器。

字幕先归一化为UTF-8再封装，字幕流带语言标签。
合并成功后原视频和字幕文件会被删除（移动语义）；
字幕缺失时该文件报错跳过，原文件保持不动。`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, args, runner.OpMergeSubtitle)
	},
}

// extractCmd 字幕提取命令
var extractCmd = &cobra.Command{
	Use:   "extract [目录或文件...]",
	Short: "把内嵌字幕流提取成srt文件",
	Long: `枚举每个视频的内嵌字幕流，逐条提取成独立命名的
srt文件放在视频旁边，形如"video.0.por.srt"。`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd, args, runner.OpExtractSubtitle)
	},
}

func init() {
	convertCmd.Flags().StringVar(&convertType, "type", "video", "转换类型 (video, audio)")
	convertCmd.Flags().StringVarP(&outputExt, "extension", "e", "", "输出扩展名，如.mp4、.mp3")
	mergeCmd.Flags().StringVarP(&language, "language", "l", "", "字幕流语言标签")
}

// runBatch 批处理命令的共用骨架：定位工具、预检、收集输入、装配并执行
func runBatch(cmd *cobra.Command, args []string, op runner.Operation) error {
	cfg, err := effectiveConfig(cmd)
	if err != nil {
		return err
	}

	// 工具缺失在任何Job开始前一次性报告
	locator := ffmpeg.NewLocator(&cfg.Tools, log)
	ffmpegPath, err := locator.FFmpeg()
	if err != nil {
		return err
	}
	ffprobePath, err := locator.FFprobe()
	if err != nil {
		return err
	}

	checkDir := cfg.Conversion.OutputDir
	if checkDir == "" || op != runner.OpConvertAudio && op != runner.OpConvertVideo {
		checkDir = "."
	}
	if err := syscheck.EnsureDiskSpace(checkDir, cfg.Advanced.MinFreeSpaceMB, log); err != nil {
		return err
	}

	prober := probe.NewProber(ffprobePath, log.Named("probe"))
	inputs, err := collectInputs(cmd.Context(), args, prober, cfg)
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("没有可处理的媒体文件")
	}

	if dir := cfg.Conversion.OutputDir; dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建输出目录失败: %w", err)
		}
	}

	surface := ui.NewConsoleSurface(cfg.Conversion.Overwrite, false)
	launcher := ffmpeg.NewExecLauncher(log.Named("ffmpeg"),
		time.Duration(cfg.Advanced.QuitGraceMillis)*time.Millisecond)
	normalizer := subtitle.NewNormalizer(log.Named("subtitle"))

	jobRunner := runner.NewRunner(launcher, prober, normalizer, surface,
		log.Named("runner"), ffmpegPath, cfg.Conversion.Overwrite)

	var journal *runner.Journal
	if cfg.Journal.Enabled {
		journal, err = runner.OpenJournal(cfg.Journal.Path, log.Named("journal"))
		if err != nil {
			log.Warn("打开会话数据库失败，本次不记录", zap.Error(err))
			journal = nil
		} else {
			defer journal.Close()
		}
	}

	ctrl := runner.NewController(jobRunner, surface, log.Named("batch"), journal, cfg)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	stopSignals := watchSignals(ctrl, cancel)
	defer stopSignals()

	outcomes := ctrl.RunBatch(ctx, inputs, op)
	surface.Done()

	var failed int
	for _, o := range outcomes {
		if o.Kind == runner.OutcomeFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d/%d 个文件处理失败", failed, len(outcomes))
	}
	return nil
}

// collectInputs 把命令行参数展开成媒体文件列表
// 目录参数扫描其下一层文件，文件参数单独探测，非媒体文件剔除
func collectInputs(ctx context.Context, args []string, prober *probe.Prober, cfg *config.Config) ([]string, error) {
	scanner := probe.NewScanner(prober, log.Named("scan"), cfg.Probe.Concurrency)

	var inputs []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("无法访问 %s: %w", arg, err)
		}

		if info.IsDir() {
			media, err := scanner.ScanDir(ctx, arg)
			if err != nil {
				return nil, fmt.Errorf("扫描目录失败 %s: %w", arg, err)
			}
			inputs = append(inputs, media...)
			continue
		}

		if !prober.IsMedia(ctx, arg) {
			log.Warn("不是媒体文件，跳过", zap.String("path", arg))
			continue
		}
		inputs = append(inputs, arg)
	}
	return inputs, nil
}

// watchSignals 把Ctrl+C映射到取消语义：
// 第一次取消当前文件，第二次取消整批，第三次硬终止
func watchSignals(ctrl *runner.Controller, hardCancel context.CancelFunc) func() {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)

	go func() {
		count := 0
		for range ch {
			count++
			switch count {
			case 1:
				log.Warn("收到中断信号，取消当前文件（再次Ctrl+C取消整批）")
				ctrl.CancelCurrent()
			case 2:
				log.Warn("收到第二次中断信号，取消整个批次")
				ctrl.CancelAll()
			default:
				log.Warn("收到第三次中断信号，硬终止")
				hardCancel()
				return
			}
		}
	}()

	return func() { signal.Stop(ch); close(ch) }
}
