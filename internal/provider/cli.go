package provider

import (
	"context"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// killGrace is how long after SIGTERM the silence watcher waits before
// escalating to SIGKILL.
const killGrace = 10 * time.Second

// CLIProvider invokes an AI CLI binary in headless mode. The default
// configuration runs `claude -p <prompt>`.
type CLIProvider struct {
	binary         string
	extraArgs      []string
	silenceTimeout time.Duration
	logger         *slog.Logger
}

// CLIOption configures a CLIProvider.
type CLIOption func(*CLIProvider)

// WithBinary sets the provider binary.
func WithBinary(path string) CLIOption {
	return func(p *CLIProvider) { p.binary = path }
}

// WithExtraArgs appends fixed arguments to every invocation.
func WithExtraArgs(args ...string) CLIOption {
	return func(p *CLIProvider) { p.extraArgs = append(p.extraArgs, args...) }
}

// WithSilenceTimeout overrides the hang-detector window.
func WithSilenceTimeout(d time.Duration) CLIOption {
	return func(p *CLIProvider) { p.silenceTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) CLIOption {
	return func(p *CLIProvider) { p.logger = l }
}

// NewCLIProvider creates a subprocess-backed provider.
func NewCLIProvider(opts ...CLIOption) *CLIProvider {
	p := &CLIProvider{
		binary:         "claude",
		silenceTimeout: DefaultSilenceTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *CLIProvider) Name() string {
	return p.binary
}

// Invoke runs the provider binary with the prompt and waits for completion.
// Subprocess failure, timeout, and hang are reported in the Result, not as
// errors; only setup failures (binary missing) return an error.
func (p *CLIProvider) Invoke(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	invokeCtx := ctx
	var cancel context.CancelFunc
	if req.Timeout > 0 {
		invokeCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := []string{"-p", req.Prompt, "--dangerously-skip-permissions"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	args = append(args, p.extraArgs...)

	cmd := exec.CommandContext(invokeCtx, p.binary, args...)
	cmd.Dir = req.Workdir
	setProcAttr(cmd)

	watcher := newSilenceWatcher(p.silenceTimeout, p.logger)
	stdout := newTailBuffer(TailSize, watcher.touch)
	stderr := newTailBuffer(TailSize, watcher.touch)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	watcher.watch(cmd.Process.Pid)
	err := cmd.Wait()
	hung := watcher.stop()

	res := &Result{
		Duration:   time.Since(start),
		TimedOut:   invokeCtx.Err() == context.DeadlineExceeded,
		Hung:       hung,
		StdoutTail: stdout.String(),
		StderrTail: stderr.String(),
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
		} else if res.ExitCode == 0 {
			res.ExitCode = -1
		}
	}
	res.CreditExhausted = detectCreditExhaustion(res.StdoutTail, res.StderrTail)

	p.logger.Debug("provider invocation finished",
		"role", req.Role,
		"exit_code", res.ExitCode,
		"duration", res.Duration,
		"timed_out", res.TimedOut,
		"hung", res.Hung)

	return res, nil
}

// silenceWatcher kills a subprocess that produces no output for the
// configured window. Any byte on stdout or stderr resets the timer.
type silenceWatcher struct {
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
	fired bool
	done  bool
}

func newSilenceWatcher(timeout time.Duration, logger *slog.Logger) *silenceWatcher {
	return &silenceWatcher{timeout: timeout, logger: logger}
}

// watch arms the timer against the given process group.
func (w *silenceWatcher) watch(pid int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timeout <= 0 {
		return
	}
	w.timer = time.AfterFunc(w.timeout, func() { w.expire(pid) })
}

// touch resets the silence timer.
func (w *silenceWatcher) touch() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil && !w.done && !w.fired {
		w.timer.Reset(w.timeout)
	}
}

// expire performs the two-phase kill: terminate, then kill after a grace
// period if the child is still alive.
func (w *silenceWatcher) expire(pid int) {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return
	}
	w.fired = true
	w.mu.Unlock()

	w.logger.Warn("provider subprocess silent past deadline, terminating",
		"pid", pid, "timeout", w.timeout)
	_ = terminateProcessGroup(pid)

	time.AfterFunc(killGrace, func() {
		w.mu.Lock()
		stopped := w.done
		w.mu.Unlock()
		if !stopped {
			_ = killProcessGroup(pid)
		}
	})
}

// stop disarms the watcher and reports whether it fired.
func (w *silenceWatcher) stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.done = true
	if w.timer != nil {
		w.timer.Stop()
	}
	return w.fired
}
