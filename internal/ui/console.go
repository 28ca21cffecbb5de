package ui

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/pterm/pterm"
	"golang.org/x/term"

	"vidly/config"
)

// ConsoleSurface 终端显示面，实现runner.Surface
// 进度条用pterm绘制，覆盖确认在交互终端里用promptui询问
type ConsoleSurface struct {
	mutex     sync.Mutex
	bar       *pterm.ProgressbarPrinter
	last      int
	overwrite config.OverwritePolicy
	quiet     bool
}

// NewConsoleSurface 创建终端显示面
// overwrite策略在非交互环境（stdin不是TTY）下代替询问
func NewConsoleSurface(overwrite config.OverwritePolicy, quiet bool) *ConsoleSurface {
	return &ConsoleSurface{overwrite: overwrite, quiet: quiet}
}

// OnLabel 开始展示一个新文件的进度条
func (s *ConsoleSurface) OnLabel(text string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.finishBar()
	s.last = 0

	if s.quiet {
		return
	}

	bar, err := pterm.DefaultProgressbar.
		WithTotal(100).
		WithTitle(text).
		WithShowCount(false).
		WithShowPercentage(true).
		WithShowElapsedTime(true).
		Start()
	if err != nil {
		return
	}
	bar.BarCharacter = "█"
	bar.LastCharacter = "█"
	s.bar = bar
}

// OnProgress 推进进度条到给定百分比
func (s *ConsoleSurface) OnProgress(percent int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.bar == nil || percent <= s.last {
		if percent > s.last {
			s.last = percent
		}
		return
	}
	s.bar.Add(percent - s.last)
	s.last = percent
}

// ConfirmOverwrite 询问是否覆盖已存在的输出文件
// 非交互环境下没有人可以回答，按策略兜底
func (s *ConsoleSurface) ConfirmOverwrite(path string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return s.overwrite == config.OverwriteAlways
	}

	s.mutex.Lock()
	s.finishBar()
	s.mutex.Unlock()

	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("输出文件已存在，是否覆盖 %s", path),
		IsConfirm: true,
	}
	result, err := prompt.Run()
	if err != nil {
		return false
	}
	return strings.EqualFold(result, "y")
}

// OnError 红色错误上报
func (s *ConsoleSurface) OnError(message string) {
	s.mutex.Lock()
	s.finishBar()
	s.mutex.Unlock()

	color.Red("✗ %s", message)
}

// OnSuccess 绿色完成上报
func (s *ConsoleSurface) OnSuccess() {
	s.mutex.Lock()
	s.finishBar()
	s.mutex.Unlock()

	if !s.quiet {
		color.Green("✓ 全部完成")
	}
}

// Done 批处理收尾，关掉残留的进度条
func (s *ConsoleSurface) Done() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.finishBar()
}

// finishBar 关闭当前进度条，调用方必须持锁
func (s *ConsoleSurface) finishBar() {
	if s.bar != nil {
		_, _ = s.bar.Stop()
		s.bar = nil
	}
}
