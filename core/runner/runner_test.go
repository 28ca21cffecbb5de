package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"

	"vidly/config"
	"vidly/core/ffmpeg"
	"vidly/core/probe"
	"vidly/core/subtitle"
)

// fakeProcess 可控的假子进程：按脚本发送进度tick并响应Quit
type fakeProcess struct {
	ticks   []int
	waitErr error
	errText string

	progress chan int
	quit     chan struct{}
	quitOnce sync.Once
}

func newFakeProcess(waitErr error, ticks ...int) *fakeProcess {
	return &fakeProcess{
		ticks:    ticks,
		waitErr:  waitErr,
		progress: make(chan int),
		quit:     make(chan struct{}),
	}
}

func (p *fakeProcess) feed() {
	defer close(p.progress)
	for _, t := range p.ticks {
		select {
		case p.progress <- t:
		case <-p.quit:
			return
		}
	}
}

func (p *fakeProcess) Progress() <-chan int { return p.progress }
func (p *fakeProcess) Wait() error          { return p.waitErr }
func (p *fakeProcess) Stderr() string       { return p.errText }

func (p *fakeProcess) Quit() {
	p.quitOnce.Do(func() { close(p.quit) })
}

func (p *fakeProcess) wasQuit() bool {
	select {
	case <-p.quit:
		return true
	default:
		return false
	}
}

// fakeLauncher 记录每次启动的参数向量，按脚本决定进程行为
// 进程可正常退出时模拟子进程写出输出文件
type fakeLauncher struct {
	mu     sync.Mutex
	starts [][]string
	procs  []*fakeProcess

	script func(call int, args []string) *fakeProcess
}

func (l *fakeLauncher) Start(ctx context.Context, args []string, totalSeconds float64) (ffmpeg.Process, error) {
	l.mu.Lock()
	call := len(l.starts)
	l.starts = append(l.starts, append([]string(nil), args...))
	l.mu.Unlock()

	p := l.script(call, args)
	if p == nil {
		return nil, errors.New("启动失败")
	}

	output := args[len(args)-1]
	if err := os.WriteFile(output, []byte("converted"), 0644); err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.procs = append(l.procs, p)
	l.mu.Unlock()

	go p.feed()
	return p, nil
}

func (l *fakeLauncher) startCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.starts)
}

func (l *fakeLauncher) startArgs(i int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.starts[i]
}

// alwaysSucceed 每次启动都正常跑完的脚本
func alwaysSucceed(call int, args []string) *fakeProcess {
	return newFakeProcess(nil, 25, 50, 100)
}

// fakeSurface 记录显示面收到的一切
type fakeSurface struct {
	mu      sync.Mutex
	labels  []string
	ticks   []int
	errs    []string
	success bool

	confirm    func(path string) bool
	onProgress func(percent int)
}

func (s *fakeSurface) OnLabel(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels = append(s.labels, text)
}

func (s *fakeSurface) OnProgress(percent int) {
	s.mu.Lock()
	s.ticks = append(s.ticks, percent)
	hook := s.onProgress
	s.mu.Unlock()
	if hook != nil {
		hook(percent)
	}
}

func (s *fakeSurface) ConfirmOverwrite(path string) bool {
	if s.confirm != nil {
		return s.confirm(path)
	}
	return true
}

func (s *fakeSurface) OnError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, message)
}

func (s *fakeSurface) OnSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.success = true
}

func (s *fakeSurface) errorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

// fakeInfo 固定返回的假探测器
type fakeInfo struct {
	res *probe.Result
	err error
}

func (f *fakeInfo) Probe(ctx context.Context, path string) (*probe.Result, error) {
	return f.res, f.err
}

func defaultInfo() *fakeInfo {
	return &fakeInfo{res: &probe.Result{Format: probe.Format{Duration: "100"}}}
}

// fakeNormalizer 固定返回的假字幕归一化器
type fakeNormalizer struct {
	err   error
	calls int
}

func (f *fakeNormalizer) Normalize(path string) error {
	f.calls++
	return f.err
}

func newTestRunner(
	launcher *fakeLauncher, info mediaInfo, norm subtitleNormalizer,
	surface *fakeSurface, policy config.OverwritePolicy,
) *Runner {
	return NewRunner(launcher, info, norm, surface, zap.NewNop(), "ffmpeg", policy)
}

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunConvertVideoSuccess(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "movie.avi", "raw")

	launcher := &fakeLauncher{script: alwaysSucceed}
	surface := &fakeSurface{}
	r := newTestRunner(launcher, defaultInfo(), &fakeNormalizer{}, surface, config.OverwriteAsk)

	rep := NewReporter(surface.OnProgress)
	out := r.Run(context.Background(), Job{Input: input, Op: OpConvertVideo, OutputExt: ".mp4"}, rep)

	if out.Kind != OutcomeSuccess {
		t.Fatalf("终态得到%v, 期望success (%s)", out.Kind, out.Reason)
	}
	wantOutput := filepath.Join(dir, "movie.mp4")
	if len(out.Outputs) != 1 || out.Outputs[0] != wantOutput {
		t.Fatalf("输出路径得到%v, 期望[%s]", out.Outputs, wantOutput)
	}
	if _, err := os.Stat(wantOutput); err != nil {
		t.Fatalf("输出文件不存在: %v", err)
	}
	if _, err := os.Stat(input); err != nil {
		t.Fatalf("转换不应动原文件: %v", err)
	}
	if rep.State() != StateCompleted {
		t.Errorf("Reporter状态得到%v, 期望completed", rep.State())
	}
	if launcher.startCount() != 1 {
		t.Errorf("启动次数得到%d, 期望1", launcher.startCount())
	}
	if rep.Percent() != 100 {
		t.Errorf("最终进度得到%d, 期望100", rep.Percent())
	}
}

func TestRunFallbackOnFailure(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "movie.avi", "raw")

	launcher := &fakeLauncher{script: func(call int, args []string) *fakeProcess {
		if call == 0 {
			p := newFakeProcess(errors.New("exit status 1"), 25)
			p.errText = "Could not write header"
			return p
		}
		return newFakeProcess(nil, 50, 100)
	}}
	surface := &fakeSurface{}
	r := newTestRunner(launcher, defaultInfo(), &fakeNormalizer{}, surface, config.OverwriteAlways)

	rep := NewReporter(surface.OnProgress)
	out := r.Run(context.Background(), Job{Input: input, Op: OpConvertVideo, OutputExt: ".mp4"}, rep)

	if out.Kind != OutcomeSuccess {
		t.Fatalf("终态得到%v, 期望回退后success (%s)", out.Kind, out.Reason)
	}
	if launcher.startCount() != 2 {
		t.Fatalf("启动次数得到%d, 期望主命令+回退共2次", launcher.startCount())
	}

	fallback := launcher.startArgs(1)
	foundAAC := false
	for i, a := range fallback {
		if a == "-c:a" && i+1 < len(fallback) && fallback[i+1] == "aac" {
			foundAAC = true
		}
	}
	if !foundAAC {
		t.Errorf("第二次启动不是aac回退命令: %v", fallback)
	}
}

func TestRunFailureNoFallback(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "song.wav", "raw")

	launcher := &fakeLauncher{script: func(call int, args []string) *fakeProcess {
		p := newFakeProcess(errors.New("exit status 1"), 10)
		p.errText = "Invalid data found"
		return p
	}}
	surface := &fakeSurface{}
	r := newTestRunner(launcher, defaultInfo(), &fakeNormalizer{}, surface, config.OverwriteAlways)

	rep := NewReporter(surface.OnProgress)
	out := r.Run(context.Background(), Job{Input: input, Op: OpConvertAudio, OutputExt: ".mp3"}, rep)

	if out.Kind != OutcomeFailed {
		t.Fatalf("终态得到%v, 期望failed", out.Kind)
	}
	if out.Reason == "" {
		t.Error("失败终态必须带原因")
	}
	if surface.errorCount() != 1 {
		t.Errorf("显示面收到%d条错误, 期望1", surface.errorCount())
	}
	if rep.State() != StateFailed {
		t.Errorf("Reporter状态得到%v, 期望failed", rep.State())
	}
	// 音频转换没有回退，只启动一次
	if launcher.startCount() != 1 {
		t.Errorf("启动次数得到%d, 期望1", launcher.startCount())
	}
	// 写了一半的输出要清掉
	if _, err := os.Stat(filepath.Join(dir, "song.mp3")); !os.IsNotExist(err) {
		t.Error("失败后残留输出未被清理")
	}
}

func TestRunSkipsExistingOnDecline(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "movie.avi", "raw")
	existing := writeInput(t, dir, "movie.mp4", "keep me")

	launcher := &fakeLauncher{script: alwaysSucceed}
	surface := &fakeSurface{confirm: func(path string) bool { return false }}
	r := newTestRunner(launcher, defaultInfo(), &fakeNormalizer{}, surface, config.OverwriteAsk)

	rep := NewReporter(surface.OnProgress)
	out := r.Run(context.Background(), Job{Input: input, Op: OpConvertVideo, OutputExt: ".mp4"}, rep)

	if out.Kind != OutcomeSkippedExisting {
		t.Fatalf("终态得到%v, 期望skipped_existing", out.Kind)
	}
	if launcher.startCount() != 0 {
		t.Fatalf("拒绝覆盖后不应启动子进程, 启动了%d次", launcher.startCount())
	}
	data, err := os.ReadFile(existing)
	if err != nil || string(data) != "keep me" {
		t.Errorf("已存在的输出被动过: %q, %v", data, err)
	}
	if rep.State() != StateCompleted {
		t.Errorf("Reporter状态得到%v, 期望completed", rep.State())
	}
}

func TestRunOverwriteNeverSkipsWithoutAsking(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "movie.avi", "raw")
	writeInput(t, dir, "movie.mp4", "keep me")

	launcher := &fakeLauncher{script: alwaysSucceed}
	surface := &fakeSurface{confirm: func(path string) bool {
		t.Error("never策略下不应询问用户")
		return true
	}}
	r := newTestRunner(launcher, defaultInfo(), &fakeNormalizer{}, surface, config.OverwriteNever)

	rep := NewReporter(surface.OnProgress)
	out := r.Run(context.Background(), Job{Input: input, Op: OpConvertVideo, OutputExt: ".mp4"}, rep)

	if out.Kind != OutcomeSkippedExisting {
		t.Fatalf("终态得到%v, 期望skipped_existing", out.Kind)
	}
}

func TestRunCancelCurrent(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "movie.avi", "raw")

	launcher := &fakeLauncher{script: func(call int, args []string) *fakeProcess {
		return newFakeProcess(nil, 10, 20, 30, 40, 50, 60)
	}}
	surface := &fakeSurface{}
	r := newTestRunner(launcher, defaultInfo(), &fakeNormalizer{}, surface, config.OverwriteAlways)

	rep := NewReporter(nil)
	var once sync.Once
	rep.onProgress = func(percent int) {
		once.Do(rep.CancelCurrent)
	}

	out := r.Run(context.Background(), Job{Input: input, Op: OpConvertVideo, OutputExt: ".mp4"}, rep)

	if out.Kind != OutcomeCancelled {
		t.Fatalf("终态得到%v, 期望cancelled", out.Kind)
	}
	if rep.State() != StateCancelled {
		t.Errorf("Reporter状态得到%v, 期望cancelled", rep.State())
	}
	if !launcher.procs[0].wasQuit() {
		t.Error("取消后子进程未收到优雅退出请求")
	}
	// 写了一半的输出要清掉
	if _, err := os.Stat(filepath.Join(dir, "movie.mp4")); !os.IsNotExist(err) {
		t.Error("取消后残留输出未被清理")
	}
	if _, err := os.Stat(input); err != nil {
		t.Errorf("取消不应动原文件: %v", err)
	}
}

func TestRunRetitleReplacesOriginal(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "episode.mkv", "old bytes")

	launcher := &fakeLauncher{script: alwaysSucceed}
	surface := &fakeSurface{}
	r := newTestRunner(launcher, defaultInfo(), &fakeNormalizer{}, surface, config.OverwriteAlways)

	rep := NewReporter(surface.OnProgress)
	out := r.Run(context.Background(), Job{Input: input, Op: OpRetitle}, rep)

	if out.Kind != OutcomeSuccess {
		t.Fatalf("终态得到%v, 期望success (%s)", out.Kind, out.Reason)
	}
	if len(out.Outputs) != 1 || out.Outputs[0] != input {
		t.Fatalf("改标题的最终输出应是原路径, 得到%v", out.Outputs)
	}

	data, err := os.ReadFile(input)
	if err != nil {
		t.Fatalf("原路径文件丢失: %v", err)
	}
	if string(data) != "converted" {
		t.Errorf("原路径内容得到%q, 期望被临时文件顶替", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "mod_episode.mkv")); !os.IsNotExist(err) {
		t.Error("mod_临时文件未被消掉")
	}
}

func TestRunMergeMissingSidecar(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "ep.mp4", "video bytes")

	launcher := &fakeLauncher{script: alwaysSucceed}
	surface := &fakeSurface{}
	norm := &fakeNormalizer{err: &subtitle.NotFoundError{Path: filepath.Join(dir, "ep.srt")}}
	r := newTestRunner(launcher, defaultInfo(), norm, surface, config.OverwriteAlways)

	rep := NewReporter(surface.OnProgress)
	out := r.Run(context.Background(), Job{Input: input, Op: OpMergeSubtitle, Language: "Pt-BR"}, rep)

	if out.Kind != OutcomeFailed {
		t.Fatalf("终态得到%v, 期望failed", out.Kind)
	}
	if launcher.startCount() != 0 {
		t.Fatalf("字幕缺失时不应启动子进程, 启动了%d次", launcher.startCount())
	}
	// 原文件必须原封不动
	data, err := os.ReadFile(input)
	if err != nil || string(data) != "video bytes" {
		t.Errorf("原文件被动过: %q, %v", data, err)
	}
	if surface.errorCount() != 1 {
		t.Errorf("字幕缺失必须上报, 显示面收到%d条错误", surface.errorCount())
	}
}

func TestRunMergeRemovesOriginals(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "ep.mp4", "video bytes")
	sidecar := writeInput(t, dir, "ep.srt", "1\n00:00:01,000 --> 00:00:02,000\nOla\n")

	launcher := &fakeLauncher{script: alwaysSucceed}
	surface := &fakeSurface{}
	r := newTestRunner(launcher, defaultInfo(), &fakeNormalizer{}, surface, config.OverwriteAlways)

	rep := NewReporter(surface.OnProgress)
	out := r.Run(context.Background(), Job{Input: input, Op: OpMergeSubtitle, Language: "Pt-BR"}, rep)

	if out.Kind != OutcomeSuccess {
		t.Fatalf("终态得到%v, 期望success (%s)", out.Kind, out.Reason)
	}
	wantOutput := filepath.Join(dir, "ep.srt.mkv")
	if len(out.Outputs) != 1 || out.Outputs[0] != wantOutput {
		t.Fatalf("输出路径得到%v, 期望[%s]", out.Outputs, wantOutput)
	}
	if _, err := os.Stat(input); !os.IsNotExist(err) {
		t.Error("合并成功后原视频应被删除")
	}
	if _, err := os.Stat(sidecar); !os.IsNotExist(err) {
		t.Error("合并成功后字幕文件应被删除")
	}
}

func TestRunExtractNoSubtitleStreams(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "ep.mkv", "video bytes")

	info := &fakeInfo{res: &probe.Result{
		Streams: []probe.Stream{{Index: 0, CodecType: "video"}, {Index: 1, CodecType: "audio"}},
		Format:  probe.Format{Duration: "100"},
	}}
	launcher := &fakeLauncher{script: alwaysSucceed}
	surface := &fakeSurface{}
	r := newTestRunner(launcher, info, &fakeNormalizer{}, surface, config.OverwriteAlways)

	rep := NewReporter(surface.OnProgress)
	out := r.Run(context.Background(), Job{Input: input, Op: OpExtractSubtitle}, rep)

	if out.Kind != OutcomeFailed {
		t.Fatalf("终态得到%v, 期望failed", out.Kind)
	}
	if launcher.startCount() != 0 {
		t.Fatalf("无字幕流时不应启动子进程, 启动了%d次", launcher.startCount())
	}
}

func TestRunExtractOneCommandPerStream(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "ep.mkv", "video bytes")

	por := probe.Stream{Index: 2, CodecType: "subtitle"}
	por.Tags.Language = "por"
	eng := probe.Stream{Index: 3, CodecType: "subtitle"}
	eng.Tags.Language = "eng"

	info := &fakeInfo{res: &probe.Result{
		Streams: []probe.Stream{{Index: 0, CodecType: "video"}, por, eng},
		Format:  probe.Format{Duration: "100"},
	}}
	launcher := &fakeLauncher{script: alwaysSucceed}
	surface := &fakeSurface{}
	r := newTestRunner(launcher, info, &fakeNormalizer{}, surface, config.OverwriteAlways)

	rep := NewReporter(surface.OnProgress)
	out := r.Run(context.Background(), Job{Input: input, Op: OpExtractSubtitle}, rep)

	if out.Kind != OutcomeSuccess {
		t.Fatalf("终态得到%v, 期望success (%s)", out.Kind, out.Reason)
	}
	if launcher.startCount() != 2 {
		t.Fatalf("启动次数得到%d, 期望每条字幕流一次", launcher.startCount())
	}

	want := []string{
		filepath.Join(dir, "ep.0.por.srt"),
		filepath.Join(dir, "ep.1.eng.srt"),
	}
	if len(out.Outputs) != 2 || out.Outputs[0] != want[0] || out.Outputs[1] != want[1] {
		t.Errorf("输出路径得到%v, 期望%v", out.Outputs, want)
	}
	if _, err := os.Stat(input); err != nil {
		t.Errorf("提取不应动原文件: %v", err)
	}
}

func TestRunRejectsVideoToMP3(t *testing.T) {
	dir := t.TempDir()
	input := writeInput(t, dir, "movie.avi", "raw")

	launcher := &fakeLauncher{script: alwaysSucceed}
	surface := &fakeSurface{}
	r := newTestRunner(launcher, defaultInfo(), &fakeNormalizer{}, surface, config.OverwriteAlways)

	rep := NewReporter(surface.OnProgress)
	out := r.Run(context.Background(), Job{Input: input, Op: OpConvertVideo, OutputExt: ".mp3"}, rep)

	if out.Kind != OutcomeFailed {
		t.Fatalf("终态得到%v, 期望failed", out.Kind)
	}
	if launcher.startCount() != 0 {
		t.Fatalf("非法组合不应启动子进程, 启动了%d次", launcher.startCount())
	}
}
