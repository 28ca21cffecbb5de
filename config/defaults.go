package config

import "github.com/spf13/viper"

// setDefaults 设置所有默认配置值，统一在此管理避免散落各处
func setDefaults(v *viper.Viper) {
	setToolsDefaults(v)
	setConversionDefaults(v)
	setSubtitleDefaults(v)
	setRuntimeDefaults(v)
	setLoggingDefaults(v)
}

// setToolsDefaults 工具路径默认值，使用相对名称以便在PATH中查找
func setToolsDefaults(v *viper.Viper) {
	v.SetDefault("tools.directory", "")
	v.SetDefault("tools.ffmpeg_path", "ffmpeg")
	v.SetDefault("tools.ffprobe_path", "ffprobe")
}

// setConversionDefaults 转换行为默认值
func setConversionDefaults(v *viper.Viper) {
	v.SetDefault("conversion.output_dir", "")
	v.SetDefault("conversion.output_extension", ".mp4")
	v.SetDefault("conversion.overwrite", string(OverwriteAsk))
}

// setSubtitleDefaults 字幕默认值
func setSubtitleDefaults(v *viper.Viper) {
	v.SetDefault("subtitle.language", "Pt-BR")
}

// setRuntimeDefaults 运行时默认值
func setRuntimeDefaults(v *viper.Viper) {
	v.SetDefault("probe.concurrency", 4)
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "./output/vidly.db")
	v.SetDefault("advanced.enable_hot_reload", false)
	v.SetDefault("advanced.quit_grace_millis", 3000)
	v.SetDefault("advanced.min_free_space_mb", 200)
}

// setLoggingDefaults 日志默认值
func setLoggingDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.enable_console", true)
	v.SetDefault("logging.enable_file", false)
	v.SetDefault("logging.log_dir", "./output/logs")
}
