package runner

import "sync"

// State 进度通道的状态机状态
type State int

const (
	// StateIdle 尚未派发Job
	StateIdle State = iota
	// StateRunning 子进程运行中，进度正常转发
	StateRunning
	// StatePaused 转发暂停，子进程本身不受影响
	StatePaused
	// StateCompleted 子进程正常退出
	StateCompleted
	// StateCancelled 当前项被取消
	StateCancelled
	// StateCancelledAll 整个批次被取消
	StateCancelledAll
	// StateFailed 子进程失败且无回退
	StateFailed
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateCancelledAll:
		return "cancelled_all"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal 是否是终态
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateCancelledAll, StateFailed:
		return true
	default:
		return false
	}
}

// Verdict 生产者每个进度tick得到的裁决
type Verdict int

const (
	// VerdictContinue 继续转发进度
	VerdictContinue Verdict = iota
	// VerdictCancel 终止当前子进程，只取消本项
	VerdictCancel
	// VerdictCancelAll 终止当前子进程并停止派发后续Job
	VerdictCancelAll
)

// Reporter 生产者（工作goroutine）和消费者（显示面）之间的
// 协作式进度通道，持有暂停/恢复与取消信号的契约
//
// 单生产者单消费者：百分比由工作goroutine写入，
// 暂停和取消标志由显示面写入，全部经由同一把锁保护
type Reporter struct {
	mu   sync.Mutex
	cond *sync.Cond

	state     State
	percent   int
	paused    bool
	cancel    bool
	cancelAll bool

	onProgress func(percent int)
}

// NewReporter 创建进度通道，onProgress在每个被转发的tick上调用
func NewReporter(onProgress func(percent int)) *Reporter {
	r := &Reporter{onProgress: onProgress}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start Job派发时调用，Idle → Running
func (r *Reporter) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateIdle {
		r.state = StateRunning
	}
}

// Pause 暂停进度转发，已暂停或已终态时是空操作
func (r *Reporter) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRunning {
		return
	}
	r.state = StatePaused
	r.paused = true
}

// Resume 恢复进度转发，未暂停时是空操作
func (r *Reporter) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused {
		return
	}
	r.state = StateRunning
	r.paused = false
	r.cond.Broadcast()
}

// CancelCurrent 请求取消当前项，重复请求是空操作
// 同时解除暂停等待，让生产者立刻观察到取消
func (r *Reporter) CancelCurrent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() || r.cancel || r.cancelAll {
		return
	}
	r.cancel = true
	r.paused = false
	r.cond.Broadcast()
}

// CancelAll 请求取消整个批次，重复请求是空操作
func (r *Reporter) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() || r.cancelAll {
		return
	}
	r.cancelAll = true
	r.paused = false
	r.cond.Broadcast()
}

// Publish 生产者的进度tick：暂停时在此阻塞等待，
// 随后检查取消标志并给出裁决；百分比单调不减且钳制在[0,100]
func (r *Reporter) Publish(percent int) Verdict {
	r.mu.Lock()

	for r.paused && !r.cancel && !r.cancelAll {
		r.cond.Wait()
	}

	if r.cancelAll {
		r.mu.Unlock()
		return VerdictCancelAll
	}
	if r.cancel {
		r.mu.Unlock()
		return VerdictCancel
	}

	if percent < r.percent {
		percent = r.percent
	}
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}
	r.percent = percent

	cb := r.onProgress
	r.mu.Unlock()

	if cb != nil {
		cb(percent)
	}
	return VerdictContinue
}

// Finish 记录终态，已是终态时不再改变
func (r *Reporter) Finish(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() || !state.Terminal() {
		return
	}
	r.state = state
}

// State 返回当前状态
func (r *Reporter) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Percent 返回最后转发的百分比
func (r *Reporter) Percent() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.percent
}
