package runner

import "time"

// Operation 批处理操作类型
type Operation int

const (
	// OpConvertAudio 音频转换：丢弃视频流，按输出扩展名重编码音频
	OpConvertAudio Operation = iota
	// OpConvertVideo 视频转换：流复制重新封装到目标容器
	OpConvertVideo
	// OpRetitle 把内嵌标题改成文件名，原地替换
	OpRetitle
	// OpMergeSubtitle 把同名字幕文件合并进新容器，原文件删除
	OpMergeSubtitle
	// OpExtractSubtitle 把内嵌字幕流逐条提取成同目录srt文件
	OpExtractSubtitle
)

// String 返回操作的稳定名称
func (op Operation) String() string {
	switch op {
	case OpConvertAudio:
		return "convert_audio"
	case OpConvertVideo:
		return "convert_video"
	case OpRetitle:
		return "retitle"
	case OpMergeSubtitle:
		return "merge_subtitle"
	case OpExtractSubtitle:
		return "extract_subtitle"
	default:
		return "unknown"
	}
}

// Destructive 操作成功后是否会替换/删除原输入文件
func (op Operation) Destructive() bool {
	return op == OpRetitle || op == OpMergeSubtitle
}

// Job 批处理中一个文件的全部工作，派发后不再修改
type Job struct {
	// 输入文件绝对路径
	Input string

	// 操作类型
	Op Operation

	// 在批次中的序号（从1开始）和批次总数
	Index int
	Total int

	// 转换操作的输出目录，为空时输出到输入文件旁边
	OutputDir string

	// 转换操作的输出扩展名（含点）
	OutputExt string

	// 合并字幕时打在字幕流上的语言标签
	Language string
}

// OutcomeKind 单个Job的终态类别
type OutcomeKind int

const (
	// OutcomeSuccess 子进程正常完成
	OutcomeSuccess OutcomeKind = iota
	// OutcomeSkippedExisting 输出已存在且用户拒绝覆盖，未运行子进程
	OutcomeSkippedExisting
	// OutcomeCancelled 用户取消了当前项
	OutcomeCancelled
	// OutcomeCancelledAll 用户取消了整个批次
	OutcomeCancelledAll
	// OutcomeFailed 运行时错误且无可用回退
	OutcomeFailed
)

// String 返回终态的稳定名称
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkippedExisting:
		return "skipped_existing"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeCancelledAll:
		return "cancelled_all"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome 单个Job执行完毕后的结果记录
type Outcome struct {
	Input   string
	Op      Operation
	Kind    OutcomeKind
	Reason  string
	Outputs []string
	Elapsed time.Duration
}
