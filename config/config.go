package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// OverwritePolicy 输出文件已存在时的处理策略
type OverwritePolicy string

const (
	// OverwriteAsk 交互式询问用户是否覆盖
	OverwriteAsk OverwritePolicy = "ask"
	// OverwriteAlways 总是覆盖已存在的输出文件
	OverwriteAlways OverwritePolicy = "always"
	// OverwriteNever 从不覆盖，已存在即跳过
	OverwriteNever OverwritePolicy = "never"
)

// Config 应用配置结构
type Config struct {
	// 外部工具设置
	Tools ToolsConfig `mapstructure:"tools"`

	// 转换设置
	Conversion ConversionConfig `mapstructure:"conversion"`

	// 字幕设置
	Subtitle SubtitleConfig `mapstructure:"subtitle"`

	// 探测设置
	Probe ProbeConfig `mapstructure:"probe"`

	// 批处理日志设置
	Journal JournalConfig `mapstructure:"journal"`

	// 日志设置
	Logging LoggingConfig `mapstructure:"logging"`

	// 高级设置
	Advanced AdvancedConfig `mapstructure:"advanced"`
}

// ToolsConfig 外部工具路径配置
type ToolsConfig struct {
	// ffmpeg安装目录，等价于FFMPEG_DIRECTORY环境变量
	// 为空时回退到PATH查找
	Directory string `mapstructure:"directory"`

	// ffmpeg可执行文件名或绝对路径
	FFmpegPath string `mapstructure:"ffmpeg_path"`

	// ffprobe可执行文件名或绝对路径
	FFprobePath string `mapstructure:"ffprobe_path"`
}

// ConversionConfig 转换配置
type ConversionConfig struct {
	// 转换输出目录，为空时使用当前工作目录
	OutputDir string `mapstructure:"output_dir"`

	// 转换输出扩展名（含点），如".mp4"、".mp3"
	OutputExtension string `mapstructure:"output_extension"`

	// 输出文件已存在时的策略 (ask, always, never)
	Overwrite OverwritePolicy `mapstructure:"overwrite"`
}

// SubtitleConfig 字幕配置
type SubtitleConfig struct {
	// 合并进容器的字幕流语言标签，会显示在播放器字幕菜单中
	Language string `mapstructure:"language"`
}

// ProbeConfig 媒体探测配置
type ProbeConfig struct {
	// 目录扫描时的并发探测数
	Concurrency int `mapstructure:"concurrency"`
}

// JournalConfig 批处理日志配置
type JournalConfig struct {
	// 是否记录批处理会话
	Enabled bool `mapstructure:"enabled"`

	// bbolt数据库文件路径
	Path string `mapstructure:"path"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	// 日志级别 (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// 是否启用控制台日志
	EnableConsole bool `mapstructure:"enable_console"`

	// 是否启用文件日志
	EnableFile bool `mapstructure:"enable_file"`

	// 日志目录
	LogDir string `mapstructure:"log_dir"`
}

// AdvancedConfig 高级配置
type AdvancedConfig struct {
	// 是否启用配置热重载
	EnableHotReload bool `mapstructure:"enable_hot_reload"`

	// 取消子进程后等待其退出的毫秒数，超时则强制杀死
	QuitGraceMillis int `mapstructure:"quit_grace_millis"`

	// 输出目录最低剩余空间 (MB)，低于该值时拒绝启动批处理
	MinFreeSpaceMB uint64 `mapstructure:"min_free_space_mb"`
}

// ValidationError 配置验证错误
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("配置验证失败 [%s]: %s (当前值: %v)", e.Field, e.Message, e.Value)
}

// Manager 配置管理器，负责加载、验证和热重载
type Manager struct {
	config *Config
	viper  *viper.Viper
	logger *zap.Logger
	mutex  sync.RWMutex

	// 配置变更回调，热重载时依次调用
	watchers []func(old, new *Config)
}

// NewManager 创建配置管理器并完成首次加载
func NewManager(configFile string, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		viper:  viper.New(),
		logger: logger,
	}

	setDefaults(m.viper)

	// 保留原始环境变量入口：FFMPEG_DIRECTORY指向ffmpeg安装目录
	m.viper.SetEnvPrefix("VIDLY")
	m.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	m.viper.AutomaticEnv()
	if dir := os.Getenv("FFMPEG_DIRECTORY"); dir != "" {
		m.viper.SetDefault("tools.directory", dir)
	}

	if configFile != "" {
		m.viper.SetConfigFile(configFile)
	} else {
		m.viper.SetConfigName("vidly")
		m.viper.SetConfigType("yaml")
		m.viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			m.viper.AddConfigPath(filepath.Join(home, ".config", "vidly"))
		}
	}

	if err := m.viper.ReadInConfig(); err != nil {
		// 配置文件缺失不是错误，全部走默认值；显式指定的文件必须可读
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && configFile != "" {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	cfg, err := m.unmarshal()
	if err != nil {
		return nil, err
	}
	m.config = cfg

	return m, nil
}

// Get 返回当前配置的快照指针，热重载后指针会整体替换
func (m *Manager) Get() *Config {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.config
}

// OnChange 注册配置变更回调
func (m *Manager) OnChange(fn func(old, new *Config)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.watchers = append(m.watchers, fn)
}

// Watch 启用fsnotify驱动的配置热重载
func (m *Manager) Watch() {
	if !m.Get().Advanced.EnableHotReload {
		return
	}

	m.viper.OnConfigChange(func(e fsnotify.Event) {
		newCfg, err := m.unmarshal()
		if err != nil {
			m.logger.Warn("配置热重载失败，保留旧配置",
				zap.String("file", e.Name), zap.Error(err))
			return
		}

		m.mutex.Lock()
		oldCfg := m.config
		m.config = newCfg
		watchers := m.watchers
		m.mutex.Unlock()

		m.logger.Info("配置已热重载", zap.String("file", e.Name))
		for _, fn := range watchers {
			fn(oldCfg, newCfg)
		}
	})
	m.viper.WatchConfig()
}

// unmarshal 解析并验证配置
func (m *Manager) unmarshal() (*Config, error) {
	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 验证配置的各项约束
func Validate(cfg *Config) error {
	switch cfg.Conversion.Overwrite {
	case OverwriteAsk, OverwriteAlways, OverwriteNever:
	default:
		return &ValidationError{
			Field:   "conversion.overwrite",
			Value:   cfg.Conversion.Overwrite,
			Message: "必须是 ask、always 或 never",
		}
	}

	if ext := cfg.Conversion.OutputExtension; ext != "" && !strings.HasPrefix(ext, ".") {
		return &ValidationError{
			Field:   "conversion.output_extension",
			Value:   ext,
			Message: "扩展名必须以点开头",
		}
	}

	if cfg.Probe.Concurrency < 1 {
		return &ValidationError{
			Field:   "probe.concurrency",
			Value:   cfg.Probe.Concurrency,
			Message: "并发数必须至少为1",
		}
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{
			Field:   "logging.level",
			Value:   cfg.Logging.Level,
			Message: "必须是 debug、info、warn 或 error",
		}
	}

	// ffmpeg二进制不允许位于受限系统目录
	if dir := cfg.Tools.Directory; dir != "" &&
		strings.Contains(strings.ToLower(dir), "system32") {
		return &ValidationError{
			Field:   "tools.directory",
			Value:   dir,
			Message: "ffmpeg目录不能位于system32下",
		}
	}

	return nil
}
