package swarm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/richinex/morph/internal/tags"
	"github.com/richinex/morph/llm"
)

var (
	// ErrUnknownWorker is returned for nicknames not in the registry.
	ErrUnknownWorker = errors.New("unknown worker")
	// ErrWorkerExited is returned when input is sent to a finished worker.
	ErrWorkerExited = errors.New("worker has exited")
	// ErrUnresponsive is returned when a worker neither exits nor waits within the idle timeout.
	ErrUnresponsive = errors.New("worker unresponsive")
	// ErrInvalidNickname is returned for nicknames unusable as a persistence key.
	ErrInvalidNickname = errors.New("invalid nickname")
)

// DefaultPollInterval bounds how long Listen goes without checking the worker.
const DefaultPollInterval = 500 * time.Millisecond

// DefaultKillGrace is how long a killed worker may take to clean up before a
// replacement under its nickname terminates it.
const DefaultKillGrace = 10 * time.Second

var nicknamePattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.-]*$`)

// Inbox receives messages forwarded from workers, in the master's conversation.
type Inbox interface {
	Append(ctx context.Context, msg llm.ChatMessage) error
}

// CommandFunc builds the command for a worker. It must not start it.
type CommandFunc func(nickname, instruction string) *exec.Cmd

// Config configures a Registry.
type Config struct {
	Command CommandFunc
	// Self is this process's own nickname, which no worker may take.
	Self  string
	Inbox Inbox
	// Mirror receives worker output, each line prefixed by Prefix.
	Mirror io.Writer
	Prefix func(nickname string) string
	// Stderr is inherited by commands that set none. Nil discards.
	Stderr       io.Writer
	PollInterval time.Duration
	// IdleTimeout of zero waits forever.
	IdleTimeout time.Duration
	KillGrace   time.Duration
	// Detector reports whether pid is blocked reading its input. Nil disables the fallback.
	Detector        func(pid int) bool
	CaseInsensitive bool
	Logger          *zap.Logger

	extractor tags.Extractor
}

// Registry maps nicknames to live workers.
type Registry struct {
	cfg Config

	mu      sync.Mutex
	workers map[string]*Worker
	// started holds every worker not yet exited, including replaced and killed ones.
	started []*Worker
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.Prefix == nil {
		cfg.Prefix = func(nickname string) string { return "@" + nickname + " | " }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.extractor = tags.Extractor{CaseInsensitive: cfg.CaseInsensitive}
	return &Registry{cfg: cfg, workers: make(map[string]*Worker)}
}

// SelfCommand returns a CommandFunc that re-executes the current binary as a
// quick-failing subagent. extra flags go before the instruction.
func SelfCommand(extra ...string) (CommandFunc, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot locate executable: %w", err)
	}
	return func(nickname, instruction string) *exec.Cmd {
		args := []string{"--quick-fail", "--subagent", "--nickname", nickname}
		args = append(args, extra...)
		args = append(args, "--", instruction)
		return exec.Command(exe, args...)
	}, nil
}

// Spawn starts a worker and listens to it. An existing worker with the same
// nickname is killed first and replaced. The replacement starts only once
// every earlier worker under that nickname has exited, so their cleanup
// never touches its state.
func (r *Registry) Spawn(ctx context.Context, nickname, instruction string) (*Worker, error) {
	if !nicknamePattern.MatchString(nickname) || nickname == r.cfg.Self {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNickname, nickname)
	}

	r.mu.Lock()
	old, replaced := r.workers[nickname]
	delete(r.workers, nickname)
	var leaving []*Worker
	for _, w := range r.started {
		if w.nickname == nickname && w.Alive() {
			leaving = append(leaving, w)
		}
	}
	r.mu.Unlock()
	if replaced {
		r.cfg.Logger.Info("replacing worker", zap.String("worker", nickname))
		if err := old.kill(); err != nil {
			r.cfg.Logger.Warn("failed to kill replaced worker", zap.String("worker", nickname), zap.Error(err))
		}
	}
	for _, w := range leaving {
		if err := r.awaitExit(ctx, w); err != nil {
			return nil, err
		}
	}

	w, err := startWorker(&r.cfg, nickname, instruction)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.workers[nickname] = w
	r.started = slices.DeleteFunc(r.started, func(w *Worker) bool { return !w.Alive() })
	r.started = append(r.started, w)
	r.mu.Unlock()

	return w, w.Listen(ctx)
}

// awaitExit waits for a worker asked to exit. One still running after the
// kill grace, or when ctx ends, is terminated.
func (r *Registry) awaitExit(ctx context.Context, w *Worker) error {
	timer := time.NewTimer(r.cfg.KillGrace)
	defer timer.Stop()

	select {
	case <-w.Done():
		return nil
	case <-timer.C:
		r.cfg.Logger.Warn("worker ignored shutdown, terminating",
			zap.String("worker", w.nickname),
			zap.Duration("grace", r.cfg.KillGrace))
	case <-ctx.Done():
	}
	w.terminate()
	<-w.Done()
	return ctx.Err()
}

// Get returns the live worker for nickname.
func (r *Registry) Get(nickname string) (*Worker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.workers[nickname]
	return w, ok
}

// Request sends message to a worker and listens until it waits again or exits.
func (r *Registry) Request(ctx context.Context, nickname, message string) (*Worker, error) {
	w, ok := r.Get(nickname)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorker, nickname)
	}
	if err := w.SendInput(message); err != nil {
		return w, err
	}
	return w, w.Listen(ctx)
}

// Kill removes a worker and asks it to clean up and exit. It does not wait.
func (r *Registry) Kill(nickname string) error {
	r.mu.Lock()
	w, ok := r.workers[nickname]
	delete(r.workers, nickname)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownWorker, nickname)
	}
	r.cfg.Logger.Info("killing worker", zap.String("worker", nickname))
	return w.kill()
}

// Names returns live nicknames in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.workers))
}

// Shutdown kills every worker and waits for all of them to exit. Workers
// still running when ctx expires are terminated outright.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	live := slices.Collect(maps.Values(r.workers))
	clear(r.workers)
	started := r.started
	r.started = nil
	r.mu.Unlock()

	for _, w := range live {
		if err := w.kill(); err != nil {
			r.cfg.Logger.Warn("failed to kill worker", zap.String("worker", w.nickname), zap.Error(err))
		}
	}

	var g errgroup.Group
	for _, w := range started {
		g.Go(func() error {
			select {
			case <-w.Done():
				return nil
			case <-ctx.Done():
				w.terminate()
				<-w.Done()
				return fmt.Errorf("worker %q terminated after %w", w.nickname, ctx.Err())
			}
		})
	}
	return g.Wait()
}

// View lists live workers for the system message.
func (r *Registry) View() string {
	r.mu.Lock()
	workers := slices.SortedFunc(maps.Values(r.workers), func(a, b *Worker) int {
		return strings.Compare(a.nickname, b.nickname)
	})
	r.mu.Unlock()

	if len(workers) == 0 {
		return "WORKERS: (none)"
	}
	var b strings.Builder
	b.WriteString("WORKERS:")
	for _, w := range workers {
		fmt.Fprintf(&b, "\n- %s: %s", w.nickname, w.State())
	}
	return b.String()
}
