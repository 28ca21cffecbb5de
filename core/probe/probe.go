package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// sidecarExtensions 已知的非媒体伴随文件扩展名，无需探测直接排除
var sidecarExtensions = map[string]bool{
	".srt": true, ".ass": true, ".sub": true, ".vtt": true, ".idx": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".bmp": true,
	".webp": true, ".txt": true, ".nfo": true,
}

// Stream 媒体文件中的一条流
type Stream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Tags      struct {
		Language string `json:"language"`
		Title    string `json:"title"`
	} `json:"tags"`
}

// Format 容器格式信息
type Format struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

// Result 一次完整探测的结果
type Result struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

// Duration 返回媒体时长（秒），无法解析时返回0
func (r *Result) Duration() float64 {
	if r.Format.Duration == "" {
		return 0
	}
	d, err := strconv.ParseFloat(r.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return d
}

// SubtitleStreams 返回所有字幕流，序号即提取时0:s:N里的N
func (r *Result) SubtitleStreams() []Stream {
	return r.streamsOfType("subtitle")
}

// AudioStreams 返回所有音频流
func (r *Result) AudioStreams() []Stream {
	return r.streamsOfType("audio")
}

// VideoStreams 返回所有视频流
func (r *Result) VideoStreams() []Stream {
	return r.streamsOfType("video")
}

func (r *Result) streamsOfType(codecType string) []Stream {
	var out []Stream
	for _, s := range r.Streams {
		if s.CodecType == codecType {
			out = append(out, s)
		}
	}
	return out
}

// Prober 媒体探测器，包装ffprobe子进程调用
type Prober struct {
	ffprobe string
	logger  *zap.Logger
}

// NewProber 创建探测器，ffprobe为已解析的可执行路径
func NewProber(ffprobe string, logger *zap.Logger) *Prober {
	return &Prober{ffprobe: ffprobe, logger: logger}
}

// IsSidecarExtension 是否是已知的非媒体伴随文件扩展名
func IsSidecarExtension(path string) bool {
	return sidecarExtensions[strings.ToLower(filepath.Ext(path))]
}

// IsMedia 判断文件是否是可播放的音视频资源
// 伴随文件扩展名走快速路径，其余以ffprobe退出状态为准，探测失败即是定论
func (p *Prober) IsMedia(ctx context.Context, path string) bool {
	if IsSidecarExtension(path) {
		return false
	}

	cmd := exec.CommandContext(ctx, p.ffprobe, "-v", "quiet", path)
	if err := cmd.Run(); err != nil {
		p.logger.Debug("探测失败，排除文件", zap.String("path", path), zap.Error(err))
		return false
	}
	return true
}

// Probe 完整探测：JSON格式返回流和容器信息
func (p *Prober) Probe(ctx context.Context, path string) (*Result, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	}

	out, err := exec.CommandContext(ctx, p.ffprobe, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe执行失败: %w", err)
	}

	var result Result
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("解析ffprobe输出失败: %w", err)
	}
	return &result, nil
}
