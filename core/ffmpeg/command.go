package ffmpeg

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Command 一次外部工具调用的参数向量
// Fallback在主命令运行时失败后重试一次，为空表示无回退
type Command struct {
	Args     []string
	Fallback []string

	// 本次调用产生的输出文件路径
	Output string
}

// HasFallback 是否声明了回退命令
func (c Command) HasFallback() bool {
	return len(c.Fallback) > 0
}

// TempTitlePrefix 改标题时临时文件的前缀
const TempTitlePrefix = "mod_"

// ConvertAudio 构建音频转换命令：丢弃视频流，按输出扩展名推断音频编码
func ConvertAudio(ffmpeg, input, outputDir, ext string) Command {
	output := ConvertOutput(input, outputDir, ext)

	codec := "aac"
	if strings.EqualFold(ext, ".mp3") {
		codec = "mp3"
	}

	return Command{
		Args: []string{
			ffmpeg,
			"-i", input,
			"-vn",
			"-acodec", codec,
			"-q:a", "0",
			"-y", output,
		},
		Output: output,
	}
}

// ConvertVideo 构建视频转换命令：流复制重新封装
// 回退命令在容器不接受原音频编码时改用aac重编码，视频仍然复制
func ConvertVideo(ffmpeg, input, outputDir, ext string) Command {
	output := ConvertOutput(input, outputDir, ext)

	return Command{
		Args: []string{
			ffmpeg,
			"-i", input,
			"-c:v", "copy",
			"-c:a", "copy",
			"-y", output,
		},
		Fallback: []string{
			ffmpeg,
			"-i", input,
			"-c:v", "copy",
			"-c:a", "aac",
			"-y", output,
		},
		Output: output,
	}
}

// Retitle 构建改标题命令：流复制到同目录mod_前缀的临时文件
// 标题取文件名去掉扩展名，成功后由调用方原子替换原文件
func Retitle(ffmpeg, input string) Command {
	title := Stem(input)
	output := TempTitlePath(input)

	return Command{
		Args: []string{
			ffmpeg,
			"-i", input,
			"-c", "copy",
			"-metadata", "title=" + title,
			"-y", output,
		},
		Output: output,
	}
}

// MergeSubtitle 构建字幕合并命令：视频与字幕流封装进新的mkv容器
// 字幕流打上语言标签，成功后由调用方删除原视频和字幕文件
func MergeSubtitle(ffmpeg, input, sidecar, language string) Command {
	output := MergedOutput(input)

	return Command{
		Args: []string{
			ffmpeg,
			"-i", input,
			"-i", sidecar,
			"-map", "0",
			"-map", "1",
			"-c:a", "copy",
			"-c:v", "copy",
			"-metadata:s:s:0", "title=" + language,
			"-y", output,
		},
		Output: output,
	}
}

// ExtractSubtitle 构建单条内嵌字幕流的提取命令
// streamIndex是字幕流序号（0:s:N），lang为空时不进入文件名
func ExtractSubtitle(ffmpeg, input string, streamIndex int, lang string) Command {
	output := ExtractOutput(input, streamIndex, lang)

	return Command{
		Args: []string{
			ffmpeg,
			"-i", input,
			"-map", fmt.Sprintf("0:s:%d", streamIndex),
			"-y", output,
		},
		Output: output,
	}
}

// ConvertOutput 转换输出路径：输出目录 + 输入文件名换扩展名
func ConvertOutput(input, outputDir, ext string) string {
	name := Stem(input) + ext
	if outputDir == "" {
		outputDir = filepath.Dir(input)
	}
	return filepath.Join(outputDir, name)
}

// TempTitlePath 改标题的临时文件路径，与输入同目录
func TempTitlePath(input string) string {
	return filepath.Join(filepath.Dir(input), TempTitlePrefix+filepath.Base(input))
}

// MergedOutput 合并输出路径，形如"video.srt.mkv"
func MergedOutput(input string) string {
	return filepath.Join(filepath.Dir(input), Stem(input)+".srt.mkv")
}

// ExtractOutput 字幕提取输出路径，形如"video.0.por.srt"
func ExtractOutput(input string, streamIndex int, lang string) string {
	name := fmt.Sprintf("%s.%d.srt", Stem(input), streamIndex)
	if lang != "" {
		name = fmt.Sprintf("%s.%d.%s.srt", Stem(input), streamIndex, lang)
	}
	return filepath.Join(filepath.Dir(input), name)
}

// Stem 文件名去掉扩展名
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// SanitizePath 清理路径中会干扰命令行的字符（引号、逗号）
// 只改文件名部分，目录保持不变
func SanitizePath(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	replacer := strings.NewReplacer(`"`, "", "'", "", ",", "")
	return filepath.Join(dir, replacer.Replace(base))
}
