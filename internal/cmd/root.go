package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vidly/config"
	"vidly/internal/logger"
)

// 全局flag与共享状态
var (
	cfgFile   string
	verbose   bool
	outputDir string
	outputExt string
	overwrite string
	language  string

	log     *zap.Logger
	manager *config.Manager
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "vidly",
	Short: "vidly - 批量视频/音频处理工具",
	Long: `vidly 通过ffmpeg批量处理视频和音频文件：
转换容器格式、把内嵌标题改成文件名、合并同名字幕、提取内嵌字幕。

批处理严格串行执行，运行中按一次Ctrl+C取消当前文件，
按两次取消整个批次。`,
	SilenceUsage: true,
}

// Execute 程序入口
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// 统一输出流到stderr，避免与进度条混排
	rootCmd.SetOut(os.Stderr)
	rootCmd.SetErr(os.Stderr)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径 (默认查找 ./vidly.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "输出调试日志")
	rootCmd.PersistentFlags().StringVarP(&outputDir, "output-dir", "o", "", "转换输出目录")
	rootCmd.PersistentFlags().StringVar(&overwrite, "overwrite", "", "输出已存在时的策略 (ask, always, never)")

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(retitleCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(historyCmd)
}

// initConfig 初始化日志和配置，subcommand运行前执行
func initConfig() {
	// 配置加载前先用一个临时logger兜底
	bootstrap := zap.NewNop()

	m, err := config.NewManager(cfgFile, bootstrap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "初始化配置失败:", err)
		os.Exit(1)
	}
	manager = m

	logCfg := m.Get().Logging
	if verbose {
		logCfg.Level = "debug"
	}

	l, err := logger.New(&logCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "初始化日志失败:", err)
		os.Exit(1)
	}
	log = l

	// 热重载时只动态调整日志级别，其余配置在下一次批处理生效
	m.OnChange(func(_, newCfg *config.Config) {
		logger.SetLevel(newCfg.Logging.Level)
	})
	m.Watch()
}

// effectiveConfig 把命令行flag覆盖到配置快照上
func effectiveConfig(cmd *cobra.Command) (*config.Config, error) {
	snapshot := *manager.Get()

	if cmd.Flags().Changed("output-dir") {
		snapshot.Conversion.OutputDir = outputDir
	}
	if cmd.Flags().Changed("overwrite") {
		snapshot.Conversion.Overwrite = config.OverwritePolicy(overwrite)
	}
	if cmd.Flags().Changed("extension") {
		snapshot.Conversion.OutputExtension = outputExt
	}
	if cmd.Flags().Changed("language") {
		snapshot.Subtitle.Language = language
	}

	if err := config.Validate(&snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}
