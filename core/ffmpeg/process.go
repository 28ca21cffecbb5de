package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Process 一个可监视的外部工具子进程
// Progress返回的通道按非递减顺序发送0-100的完成百分比，进程退出时关闭
type Process interface {
	Progress() <-chan int
	Quit()
	Wait() error
	Stderr() string
}

// Launcher 子进程启动契约
// totalSeconds是输入媒体时长，用于把out_time换算成百分比，未知时传0
type Launcher interface {
	Start(ctx context.Context, args []string, totalSeconds float64) (Process, error)
}

// ExecLauncher 基于os/exec的Launcher实现
type ExecLauncher struct {
	logger *zap.Logger

	// 优雅退出的等待时限，超过后强制杀死进程
	QuitGrace time.Duration
}

// NewExecLauncher 创建子进程启动器
func NewExecLauncher(logger *zap.Logger, quitGrace time.Duration) *ExecLauncher {
	if quitGrace <= 0 {
		quitGrace = 3 * time.Second
	}
	return &ExecLauncher{logger: logger, QuitGrace: quitGrace}
}

// Start 启动命令并开始解析进度流
// 在参数向量中注入-progress pipe:1，让ffmpeg把key=value进度写到stdout
func (l *ExecLauncher) Start(ctx context.Context, args []string, totalSeconds float64) (Process, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("命令参数为空")
	}

	full := make([]string, 0, len(args)+6)
	full = append(full, args[0], "-hide_banner", "-loglevel", "error", "-progress", "pipe:1", "-nostats")
	full = append(full, args[1:]...)

	cmd := exec.CommandContext(ctx, full[0], full[1:]...)

	p := &process{
		cmd:       cmd,
		logger:    l.logger,
		total:     totalSeconds,
		quitGrace: l.QuitGrace,
		progress:  make(chan int),
		done:      make(chan struct{}),
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("获取stdin管道失败: %w", err)
	}
	p.stdin = stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("获取stdout管道失败: %w", err)
	}
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("启动子进程失败: %w", err)
	}

	l.logger.Debug("子进程已启动",
		zap.String("binary", full[0]), zap.Int("pid", cmd.Process.Pid))

	go p.pump(stdout)
	return p, nil
}

// process Process的具体实现
type process struct {
	cmd       *exec.Cmd
	logger    *zap.Logger
	stdin     io.WriteCloser
	stderr    bytes.Buffer
	total     float64
	quitGrace time.Duration

	progress chan int
	done     chan struct{}

	waitOnce sync.Once
	quitOnce sync.Once
	waitErr  error
}

func (p *process) Progress() <-chan int {
	return p.progress
}

// pump 读取-progress输出，换算并转发百分比
// 发送是阻塞的：消费方暂停时这里随之停止读取，子进程本身不受影响
func (p *process) pump(stdout io.Reader) {
	defer close(p.progress)

	last := 0
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		pct, ok := parseProgressLine(scanner.Text(), p.total)
		if !ok {
			continue
		}
		if pct < last {
			pct = last
		}
		if pct > 100 {
			pct = 100
		}
		last = pct

		select {
		case p.progress <- pct:
		case <-p.done:
			return
		}
	}
}

// Wait 等待子进程退出，返回其终态错误
func (p *process) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.done)
	})
	return p.waitErr
}

// Quit 请求子进程优雅退出：向stdin写入q，限时不退则强制杀死
func (p *process) Quit() {
	p.quitOnce.Do(func() {
		if p.stdin != nil {
			_, _ = io.WriteString(p.stdin, "q")
			_ = p.stdin.Close()
		}

		go func() {
			select {
			case <-p.done:
			case <-time.After(p.quitGrace):
				p.logger.Warn("子进程未在时限内退出，强制杀死",
					zap.Int("pid", p.cmd.Process.Pid))
				_ = p.cmd.Process.Kill()
			}
		}()
	})
}

func (p *process) Stderr() string {
	return p.stderr.String()
}

// parseProgressLine 解析-progress的key=value行，返回完成百分比
// 识别out_time_ms（微秒）、out_time（HH:MM:SS.micro）和progress=end
func parseProgressLine(line string, totalSeconds float64) (int, bool) {
	line = strings.TrimSpace(line)

	if line == "progress=end" {
		return 100, true
	}

	var seconds float64
	switch {
	case strings.HasPrefix(line, "out_time_ms="):
		v, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_ms="), 10, 64)
		if err != nil || v < 0 {
			return 0, false
		}
		// ffmpeg的out_time_ms实际单位是微秒
		seconds = float64(v) / 1e6

	case strings.HasPrefix(line, "out_time="):
		seconds = timeToSeconds(strings.TrimPrefix(line, "out_time="))
		if seconds < 0 {
			return 0, false
		}

	default:
		return 0, false
	}

	if totalSeconds <= 0 {
		return 0, false
	}

	pct := int(seconds / totalSeconds * 100)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct, true
}

// timeToSeconds 把HH:MM:SS.micro格式转换成秒，失败返回-1
func timeToSeconds(s string) float64 {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return -1
	}

	hours, err1 := strconv.ParseFloat(parts[0], 64)
	minutes, err2 := strconv.ParseFloat(parts[1], 64)
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return -1
	}

	return hours*3600 + minutes*60 + seconds
}
