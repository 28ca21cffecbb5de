package subtitle

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// NotFoundError 按命名约定应存在的字幕文件缺失
// 合并操作没有字幕无法进行，必须上报而不是静默跳过
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("字幕文件不存在: %s，文件名必须与视频一致", e.Path)
}

// SidecarFor 返回视频文件按命名约定对应的字幕路径（同目录同名.srt）
func SidecarFor(videoPath string) string {
	dir := filepath.Dir(videoPath)
	base := filepath.Base(videoPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+".srt")
}

// Normalizer 字幕编码归一化器
type Normalizer struct {
	logger *zap.Logger
}

// NewNormalizer 创建归一化器
func NewNormalizer(logger *zap.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize 检测字幕文件编码并就地重写为UTF-8
// 检测置信度低时仍采用最佳猜测继续，编码失败不视为致命
func (n *Normalizer) Normalize(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".srt") {
		return fmt.Errorf("不支持的字幕格式: %s", filepath.Ext(path))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &NotFoundError{Path: path}
		}
		return fmt.Errorf("读取字幕文件失败: %w", err)
	}

	decoded, charset := n.decode(raw)
	if charset == "utf-8" && utf8.Valid(raw) {
		// 已经是合法UTF-8，原样保留
		return nil
	}

	info, err := os.Stat(path)
	mode := os.FileMode(0644)
	if err == nil {
		mode = info.Mode()
	}

	if err := os.WriteFile(path, decoded, mode); err != nil {
		return fmt.Errorf("重写字幕文件失败: %w", err)
	}

	n.logger.Info("字幕已转换为UTF-8",
		zap.String("path", path), zap.String("from", charset))
	return nil
}

// decode 统计推断原始编码并解码成UTF-8字节
func (n *Normalizer) decode(raw []byte) ([]byte, string) {
	result, err := chardet.NewTextDetector().DetectBest(raw)
	if err != nil || result == nil || result.Charset == "" {
		// 检测不出来就假定已是UTF-8
		return raw, "utf-8"
	}

	charset := strings.ToLower(result.Charset)
	if charset == "utf-8" {
		return raw, charset
	}

	enc, err := htmlindex.Get(charset)
	if err != nil {
		n.logger.Warn("未知字符集，按原样处理",
			zap.String("charset", charset), zap.Error(err))
		return raw, charset
	}

	decoded, err := io.ReadAll(transform.NewReader(
		strings.NewReader(string(raw)), enc.NewDecoder()))
	if err != nil {
		n.logger.Warn("字幕解码失败，按原样处理",
			zap.String("charset", charset), zap.Error(err))
		return raw, charset
	}

	return decoded, charset
}
