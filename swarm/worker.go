// Package swarm supervises worker subprocesses.
//
// Information Hiding:
// - Subprocess plumbing (pipes, control channel, exit reaping) hidden behind Worker
// - Output draining runs in a pump goroutine so reads never block the master
// - Waiting detection (marker first, kernel introspection second) hidden
package swarm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/morph/llm"
)

// WaitingMarker is written by a worker immediately before it blocks reading
// its standard input. It is stripped from mirrored output.
const WaitingMarker = "\x1e[waiting-for-input]\x1e"

// ToMasterTag delimits the only part of worker output forwarded to the master.
const ToMasterTag = "TO_MASTER"

// State is a worker lifecycle state.
type State int

const (
	StateSpawned State = iota
	StateRunning
	StateWaiting
	StateFinished
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting for input"
	case StateFinished:
		return "finished"
	case StateKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// Worker is the master's handle to one subprocess.
type Worker struct {
	nickname string
	cfg      *Config
	cmd      *exec.Cmd
	stdin    io.WriteCloser

	controlMu sync.Mutex
	control   *os.File

	mu        sync.Mutex
	state     State
	output    []byte
	pending   []byte
	carry     []byte
	history   []string
	waiting   bool
	lineStart bool

	notify  chan struct{}
	exited  chan struct{}
	exitErr error
}

func startWorker(cfg *Config, nickname, instruction string) (*Worker, error) {
	cmd := cfg.Command(nickname, instruction)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin of %q: %w", nickname, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout of %q: %w", nickname, err)
	}
	if cmd.Stderr == nil {
		cmd.Stderr = cfg.Stderr
	}

	controlR, controlW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create control pipe for %q: %w", nickname, err)
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, controlR)
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, ControlFDEnv+"="+strconv.Itoa(2+len(cmd.ExtraFiles)))

	if err := cmd.Start(); err != nil {
		controlR.Close()
		controlW.Close()
		return nil, fmt.Errorf("failed to start worker %q: %w", nickname, err)
	}
	controlR.Close()

	w := &Worker{
		nickname:  nickname,
		cfg:       cfg,
		cmd:       cmd,
		stdin:     stdin,
		control:   controlW,
		state:     StateSpawned,
		history:   []string{"@master: " + instruction},
		lineStart: true,
		notify:    make(chan struct{}, 1),
		exited:    make(chan struct{}),
	}
	go w.pump(stdout)

	cfg.Logger.Info("worker started",
		zap.String("worker", nickname),
		zap.Int("worker_pid", cmd.Process.Pid))
	return w, nil
}

// pump moves stdout bytes into the pending buffer until EOF, then reaps the process.
func (w *Worker) pump(stdout io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			w.mu.Lock()
			w.pending = append(w.pending, buf[:n]...)
			w.mu.Unlock()
			select {
			case w.notify <- struct{}{}:
			default:
			}
		}
		if err != nil {
			break
		}
	}

	w.exitErr = w.cmd.Wait()
	w.closeControl()
	w.cfg.Logger.Info("worker exited",
		zap.String("worker", w.nickname),
		zap.Error(w.exitErr))
	close(w.exited)
}

// Nickname returns the registry key.
func (w *Worker) Nickname() string {
	return w.nickname
}

// Pid returns the process id.
func (w *Worker) Pid() int {
	return w.cmd.Process.Pid
}

// State returns the lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Alive reports whether the process has not exited yet.
func (w *Worker) Alive() bool {
	select {
	case <-w.exited:
		return false
	default:
		return true
	}
}

// Done is closed once the process has exited and been reaped.
func (w *Worker) Done() <-chan struct{} {
	return w.exited
}

// Wait blocks until the process exits and returns its exit error.
func (w *Worker) Wait(ctx context.Context) error {
	select {
	case <-w.exited:
		return w.exitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Output returns everything the worker has written and the master has
// drained, without waiting markers.
func (w *Worker) Output() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.output)
}

// History returns the instruction, inputs sent and messages forwarded, in order.
func (w *Worker) History() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.history)
}

// IsWaitingForInput reports whether the worker announced it is reading its
// input, or, failing that, whether the kernel shows it blocked in read(0).
func (w *Worker) IsWaitingForInput() bool {
	return w.markerSeen() || w.blocked()
}

func (w *Worker) markerSeen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.waiting
}

func (w *Worker) blocked() bool {
	if w.cfg.Detector == nil || !w.Alive() {
		return false
	}
	return w.cfg.Detector(w.Pid())
}

// Listen drains output until the process exits or waits for input. It
// returns nil in both cases; Alive tells them apart. With an idle timeout
// configured, a worker that shows no activity for that long yields
// ErrUnresponsive.
//
// The kernel fallback must hold on two consecutive quiet polls: right after
// SendInput the worker may still sit in the read that is about to return.
func (w *Worker) Listen(ctx context.Context) error {
	w.mu.Lock()
	if w.state == StateSpawned {
		w.state = StateRunning
	}
	w.mu.Unlock()

	timer := time.NewTimer(w.cfg.PollInterval)
	defer timer.Stop()
	lastActivity := time.Now()
	blockedPolls := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.notify:
		case <-w.exited:
		case <-timer.C:
		}

		if w.drain(ctx, false) {
			lastActivity = time.Now()
			blockedPolls = 0
		}

		if !w.Alive() {
			w.drain(ctx, true)
			w.mu.Lock()
			if w.state != StateKilled {
				w.state = StateFinished
			}
			w.mu.Unlock()
			return nil
		}

		waiting := w.markerSeen()
		if !waiting && w.blocked() {
			blockedPolls++
			waiting = blockedPolls >= 2
		} else {
			blockedPolls = 0
		}
		if waiting {
			w.mu.Lock()
			w.state = StateWaiting
			w.mu.Unlock()
			notice := fmt.Sprintf("@worker [%s] is waiting...", w.nickname)
			w.announce(notice)
			w.forward(ctx, notice)
			return nil
		}

		if w.cfg.IdleTimeout > 0 && time.Since(lastActivity) >= w.cfg.IdleTimeout {
			return fmt.Errorf("worker %q silent for %s: %w", w.nickname, w.cfg.IdleTimeout, ErrUnresponsive)
		}
		timer.Reset(w.cfg.PollInterval)
	}
}

// drain consumes pending output: it is appended to the buffer, mirrored to
// the operator and scanned for messages to the master. Returns false when
// there was nothing pending. final flushes a held-back partial marker.
func (w *Worker) drain(ctx context.Context, final bool) bool {
	w.mu.Lock()
	chunk := w.pending
	w.pending = nil
	if len(chunk) == 0 && (!final || len(w.carry) == 0) {
		w.mu.Unlock()
		return false
	}

	clean := w.stripMarkersLocked(chunk)
	if final {
		clean = append(clean, w.carry...)
		w.carry = nil
	}
	w.output = append(w.output, clean...)
	display := w.prefixLocked(string(clean))
	messages := w.captureLocked()
	w.mu.Unlock()

	w.mirror(display)
	for _, msg := range messages {
		w.forward(ctx, fmt.Sprintf("@worker [%s]: %s", w.nickname, msg))
	}
	return true
}

// stripMarkersLocked removes waiting markers from chunk and sets waiting
// when one arrived. A trailing partial marker is held back until the next
// read completes or refutes it.
func (w *Worker) stripMarkersLocked(chunk []byte) []byte {
	marker := []byte(WaitingMarker)
	data := append(w.carry, chunk...)
	w.carry = nil

	if bytes.Contains(data, marker) {
		w.waiting = true
		data = bytes.ReplaceAll(data, marker, nil)
	}
	for k := min(len(marker)-1, len(data)); k > 0; k-- {
		if bytes.HasSuffix(data, marker[:k]) {
			w.carry = bytes.Clone(data[len(data)-k:])
			data = data[:len(data)-k]
			break
		}
	}
	return data
}

// captureLocked returns TO_MASTER contents not seen before, recording them in history.
func (w *Worker) captureLocked() []string {
	var fresh []string
	for block := range w.cfg.extractor.Blocks(string(w.output)) {
		if !w.cfg.extractor.Match(block.Tag, ToMasterTag) {
			continue
		}
		content := strings.TrimSpace(block.Content)
		if content == "" || slices.Contains(w.history, content) {
			continue
		}
		w.history = append(w.history, content)
		fresh = append(fresh, content)
	}
	return fresh
}

// prefixLocked starts every mirrored line with the worker prefix.
func (w *Worker) prefixLocked(text string) string {
	prefix := w.cfg.Prefix(w.nickname)
	var b strings.Builder
	for text != "" {
		if w.lineStart {
			b.WriteString(prefix)
			w.lineStart = false
		}
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			b.WriteString(text)
			break
		}
		b.WriteString(text[:i+1])
		text = text[i+1:]
		w.lineStart = true
	}
	return b.String()
}

func (w *Worker) mirror(text string) {
	if w.cfg.Mirror == nil || text == "" {
		return
	}
	_, _ = io.WriteString(w.cfg.Mirror, text)
}

// announce prints a master-side line, breaking an unfinished worker line first.
func (w *Worker) announce(line string) {
	w.mu.Lock()
	brk := ""
	if !w.lineStart {
		brk = "\n"
		w.lineStart = true
	}
	w.mu.Unlock()
	w.mirror(brk + line + "\n")
}

func (w *Worker) forward(ctx context.Context, content string) {
	if w.cfg.Inbox == nil {
		return
	}
	if err := w.cfg.Inbox.Append(ctx, llm.AssistantMessage(content)); err != nil {
		w.cfg.Logger.Error("failed to forward worker message",
			zap.String("worker", w.nickname),
			zap.Error(err))
	}
}

// SendInput writes text to the worker as one line, escaping line breaks so
// multi-line messages survive the line-based transport. It does not resume
// listening.
func (w *Worker) SendInput(text string) error {
	if !w.Alive() {
		return fmt.Errorf("worker %q: %w", w.nickname, ErrWorkerExited)
	}

	w.mu.Lock()
	w.history = append(w.history, text)
	w.waiting = false
	w.state = StateRunning
	w.mu.Unlock()

	if _, err := io.WriteString(w.stdin, EncodeLine(text)+"\n"); err != nil {
		return fmt.Errorf("failed to write to worker %q: %w", w.nickname, err)
	}
	return nil
}

var lineEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)

// EncodeLine escapes backslashes and line breaks so text fits on one line.
func EncodeLine(text string) string {
	return lineEscaper.Replace(text)
}

// DecodeLine reverses EncodeLine.
func DecodeLine(line string) string {
	if !strings.Contains(line, `\`) {
		return line
	}
	var b strings.Builder
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c != '\\' || i+1 == len(line) {
			b.WriteByte(c)
			continue
		}
		i++
		switch line[i] {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(line[i])
		}
	}
	return b.String()
}

// kill asks the worker to clean up and exit. It does not wait.
func (w *Worker) kill() error {
	w.mu.Lock()
	w.state = StateKilled
	w.mu.Unlock()

	if !w.Alive() {
		return nil
	}
	err := w.sendShutdown()
	if err == nil {
		return nil
	}
	w.cfg.Logger.Warn("control channel unavailable, signalling",
		zap.String("worker", w.nickname),
		zap.Error(err))
	if err := shutdownSignal(w.cmd.Process); err != nil && w.Alive() {
		return fmt.Errorf("failed to signal worker %q: %w", w.nickname, err)
	}
	return nil
}

func (w *Worker) sendShutdown() error {
	w.controlMu.Lock()
	defer w.controlMu.Unlock()
	if w.control == nil {
		return os.ErrClosed
	}
	_, err := w.control.WriteString(shutdownCommand + "\n")
	w.control.Close()
	w.control = nil
	return err
}

func (w *Worker) closeControl() {
	w.controlMu.Lock()
	defer w.controlMu.Unlock()
	if w.control != nil {
		w.control.Close()
		w.control = nil
	}
}

// terminate kills the process outright. Reserved for shutdown deadlines.
func (w *Worker) terminate() {
	if w.Alive() {
		_ = w.cmd.Process.Kill()
	}
}
