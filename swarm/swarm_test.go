package swarm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/richinex/morph/console"
	"github.com/richinex/morph/llm"
)

const (
	helperModeEnv  = "MORPH_SWARM_HELPER"
	helperStateEnv = "MORPH_SWARM_HELPER_STATE"
)

// TestMain doubles as the worker binary: the registry under test re-executes
// the test binary with helperModeEnv naming the behaviour to act out.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperModeEnv); mode != "" {
		os.Exit(runHelper(mode))
	}
	goleak.VerifyTestMain(m)
}

func runHelper(mode string) int {
	state := os.Getenv(helperStateEnv)
	if mode == "stubborn" {
		if len(ShutdownSignals) > 0 {
			signal.Ignore(ShutdownSignals...)
		}
	} else {
		WatchControl(func() {
			if mode == "slowclean" {
				time.Sleep(500 * time.Millisecond)
			}
			if state != "" {
				os.Remove(state)
			}
			os.Exit(0)
		})
	}

	con := console.New(os.Stdin, os.Stdout)
	switch mode {
	case "persist":
		if err := os.WriteFile(state, []byte("new"), 0o644); err != nil {
			return 2
		}
		fmt.Print(WaitingMarker + ">> ")
		_, _ = con.ReadLine()
		time.Sleep(time.Hour)
	case "report", "slowclean":
		fmt.Print("booting\n<TO_MASTER>ready</TO_MASTER>\n")
		fmt.Print("working\n<TO_MASTER>\nready\n</TO_MASTER>\n")
		fmt.Print(WaitingMarker + ">> ")
		_, _ = con.ReadLine()
		time.Sleep(time.Hour)
	case "ask":
		tool := NewRequestMasterTool(con, true)
		res, err := tool.Execute(context.Background(), json.RawMessage(`{"message":"need input"}`))
		if err != nil || res.Error != nil {
			return 2
		}
		fmt.Printf("<TO_MASTER>got %s</TO_MASTER>\n", res.Output)
	case "exit":
		fmt.Println("bye")
	case "block":
		line, _ := con.ReadLine()
		fmt.Printf("<TO_MASTER>read %s</TO_MASTER>\n", line)
	case "silent", "stubborn":
		time.Sleep(time.Hour)
	default:
		return 3
	}
	return 0
}

type recordingInbox struct {
	mu   sync.Mutex
	msgs []llm.ChatMessage
}

func (i *recordingInbox) Append(ctx context.Context, msg llm.ChatMessage) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, msg)
	return nil
}

func (i *recordingInbox) contents() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.msgs))
	for _, m := range i.msgs {
		out = append(out, m.Content)
	}
	return out
}

type harness struct {
	reg    *Registry
	inbox  *recordingInbox
	mirror *bytes.Buffer
	dir    string
}

// statePath is where a helper worker keeps its persisted state.
func (h *harness) statePath(nickname string) string {
	return filepath.Join(h.dir, nickname+".state")
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{inbox: &recordingInbox{}, mirror: &bytes.Buffer{}, dir: t.TempDir()}
	cfg.Command = func(nickname, instruction string) *exec.Cmd {
		cmd := exec.Command(os.Args[0], "-test.run=^$")
		cmd.Env = append(os.Environ(),
			helperModeEnv+"="+instruction,
			helperStateEnv+"="+h.statePath(nickname))
		return cmd
	}
	cfg.Inbox = h.inbox
	cfg.Mirror = h.mirror
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	h.reg = NewRegistry(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.reg.Shutdown(ctx)
	})
	return h
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitExit(t *testing.T, w *Worker) {
	t.Helper()
	select {
	case <-w.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("worker %s did not exit", w.Nickname())
	}
}

func TestSpawnForwardsEachMessageOnce(t *testing.T) {
	h := newHarness(t, Config{})

	w, err := h.reg.Spawn(testContext(t), "w1", "report")
	require.NoError(t, err)
	require.True(t, w.Alive())
	require.Equal(t, StateWaiting, w.State())

	require.Equal(t, []string{
		"@worker [w1]: ready",
		"@worker [w1] is waiting...",
	}, h.inbox.contents())
	require.Equal(t, []string{"@master: report", "ready"}, w.History())

	for _, msg := range h.inbox.msgs {
		require.Equal(t, llm.RoleAssistant, msg.Role)
	}
}

func TestSpawnMirrorsPrefixedOutput(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.reg.Spawn(testContext(t), "w1", "report")
	require.NoError(t, err)

	out := h.mirror.String()
	require.Contains(t, out, "@w1 | booting\n")
	require.Contains(t, out, "@w1 | working\n")
	require.Contains(t, out, "@w1 | >> \n@worker [w1] is waiting...\n")
	require.NotContains(t, out, WaitingMarker)
}

func TestSpawnReplacesDuplicateNickname(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := testContext(t)

	first, err := h.reg.Spawn(ctx, "w1", "report")
	require.NoError(t, err)
	second, err := h.reg.Spawn(ctx, "w1", "report")
	require.NoError(t, err)

	require.Equal(t, []string{"w1"}, h.reg.Names())
	got, ok := h.reg.Get("w1")
	require.True(t, ok)
	require.Same(t, second, got)
	require.NotEqual(t, first.Pid(), second.Pid())

	waitExit(t, first)
	require.NoError(t, first.Wait(ctx))
	require.Equal(t, StateKilled, first.State())
	require.True(t, second.Alive())
}

func TestSpawnWaitsForEarlierWorkerCleanup(t *testing.T) {
	for name, retire := range map[string]func(h *harness) error{
		"replace": func(h *harness) error { return nil },
		"kill":    func(h *harness) error { return h.reg.Kill("w1") },
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, Config{})
			ctx := testContext(t)

			first, err := h.reg.Spawn(ctx, "w1", "slowclean")
			require.NoError(t, err)
			require.NoError(t, retire(h))

			second, err := h.reg.Spawn(ctx, "w1", "persist")
			require.NoError(t, err)
			require.False(t, first.Alive())
			require.Equal(t, StateWaiting, second.State())

			data, err := os.ReadFile(h.statePath("w1"))
			require.NoError(t, err)
			require.Equal(t, "new", string(data))
		})
	}
}

func TestSpawnTerminatesWorkerIgnoringShutdown(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: 200 * time.Millisecond, KillGrace: 300 * time.Millisecond})
	ctx := testContext(t)

	first, err := h.reg.Spawn(ctx, "w1", "stubborn")
	require.ErrorIs(t, err, ErrUnresponsive)

	second, err := h.reg.Spawn(ctx, "w1", "exit")
	require.NoError(t, err)
	require.False(t, first.Alive())
	require.Equal(t, StateFinished, second.State())
}

func TestSpawnPrunesExitedWorkers(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := testContext(t)

	for _, nick := range []string{"a", "b"} {
		_, err := h.reg.Spawn(ctx, nick, "exit")
		require.NoError(t, err)
	}
	last, err := h.reg.Spawn(ctx, "c", "report")
	require.NoError(t, err)

	h.reg.mu.Lock()
	defer h.reg.mu.Unlock()
	require.Equal(t, []*Worker{last}, h.reg.started)
}

func TestKillRemovesWorkerAndItCleansUp(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := testContext(t)
	require.NoError(t, os.WriteFile(h.statePath("w1"), []byte("persisted"), 0o644))

	w, err := h.reg.Spawn(ctx, "w1", "report")
	require.NoError(t, err)

	require.NoError(t, h.reg.Kill("w1"))
	require.Empty(t, h.reg.Names())
	_, ok := h.reg.Get("w1")
	require.False(t, ok)

	waitExit(t, w)
	require.NoError(t, w.Wait(ctx))
	_, err = os.Stat(h.statePath("w1"))
	require.True(t, os.IsNotExist(err))
}

func TestRequestResumesWaitingWorker(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := testContext(t)

	w, err := h.reg.Spawn(ctx, "w1", "ask")
	require.NoError(t, err)
	require.Equal(t, StateWaiting, w.State())

	got, err := h.reg.Request(ctx, "w1", "42")
	require.NoError(t, err)
	require.Same(t, w, got)
	require.False(t, w.Alive())
	require.Equal(t, StateFinished, w.State())

	require.Equal(t, []string{
		"@worker [w1]: need input",
		"@worker [w1] is waiting...",
		"@worker [w1]: got <FROM_MASTER>42</FROM_MASTER>",
	}, h.inbox.contents())
	require.Equal(t, []string{
		"@master: ask",
		"need input",
		"42",
		"got <FROM_MASTER>42</FROM_MASTER>",
	}, w.History())
}

func TestRequestCarriesMultilineMessage(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := testContext(t)

	w, err := h.reg.Spawn(ctx, "w1", "ask")
	require.NoError(t, err)

	_, err = h.reg.Request(ctx, "w1", "a\nb\\n")
	require.NoError(t, err)
	require.False(t, w.Alive())
	require.Contains(t, h.inbox.contents(), "@worker [w1]: got <FROM_MASTER>a\nb\\n</FROM_MASTER>")
	require.Contains(t, w.History(), "a\nb\\n")
}

func TestLineEncoding(t *testing.T) {
	for _, text := range []string{
		"plain",
		"a\nb",
		"crlf\r\n",
		`C:\new\table`,
		`trailing\`,
		"",
	} {
		line := EncodeLine(text)
		require.NotContains(t, line, "\n", text)
		require.Equal(t, text, DecodeLine(line), text)
	}
	require.Equal(t, "plain", EncodeLine("plain"))
}

func TestRequestAfterExit(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := testContext(t)

	w, err := h.reg.Spawn(ctx, "w1", "exit")
	require.NoError(t, err)
	require.False(t, w.Alive())
	require.Equal(t, StateFinished, w.State())
	require.Equal(t, "bye\n", w.Output())
	require.Empty(t, h.inbox.contents())

	_, err = h.reg.Request(ctx, "w1", "hello")
	require.ErrorIs(t, err, ErrWorkerExited)
}

func TestUnknownWorker(t *testing.T) {
	h := newHarness(t, Config{})

	_, err := h.reg.Request(testContext(t), "ghost", "hi")
	require.ErrorIs(t, err, ErrUnknownWorker)
	require.ErrorIs(t, h.reg.Kill("ghost"), ErrUnknownWorker)
}

func TestSpawnRejectsInvalidNickname(t *testing.T) {
	h := newHarness(t, Config{})

	for _, nick := range []string{"", "../up", "a b", ".hidden"} {
		_, err := h.reg.Spawn(testContext(t), nick, "exit")
		require.ErrorIs(t, err, ErrInvalidNickname, nick)
	}
}

func TestSpawnRejectsOwnNickname(t *testing.T) {
	h := newHarness(t, Config{Self: "master"})

	_, err := h.reg.Spawn(testContext(t), "master", "exit")
	require.ErrorIs(t, err, ErrInvalidNickname)
	require.Empty(t, h.reg.Names())
}

func TestListenIdleTimeout(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: 300 * time.Millisecond})

	start := time.Now()
	w, err := h.reg.Spawn(testContext(t), "w1", "silent")
	require.ErrorIs(t, err, ErrUnresponsive)
	require.NotNil(t, w)
	require.True(t, w.Alive())
	require.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
}

func TestListenHonoursCancellation(t *testing.T) {
	h := newHarness(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := h.reg.Spawn(ctx, "w1", "silent")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBlockedOnStdinFallback(t *testing.T) {
	if _, err := os.ReadFile("/proc/self/syscall"); err != nil {
		t.Skip("kernel syscall introspection unavailable")
	}
	h := newHarness(t, Config{Detector: BlockedOnStdin})
	ctx := testContext(t)

	w, err := h.reg.Spawn(ctx, "w1", "block")
	require.NoError(t, err)
	require.Equal(t, StateWaiting, w.State())

	_, err = h.reg.Request(ctx, "w1", "line")
	require.NoError(t, err)
	require.False(t, w.Alive())
	require.Contains(t, h.inbox.contents(), "@worker [w1]: read line")
}

func TestShutdownTerminatesStubbornWorkers(t *testing.T) {
	h := newHarness(t, Config{IdleTimeout: 200 * time.Millisecond})

	w, err := h.reg.Spawn(testContext(t), "w1", "stubborn")
	require.ErrorIs(t, err, ErrUnresponsive)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err = h.reg.Shutdown(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), `worker "w1" terminated`)
	require.False(t, w.Alive())
	require.Empty(t, h.reg.Names())
}

func TestShutdownWaitsForAll(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := testContext(t)

	a, err := h.reg.Spawn(ctx, "a", "report")
	require.NoError(t, err)
	b, err := h.reg.Spawn(ctx, "b", "report")
	require.NoError(t, err)

	require.NoError(t, h.reg.Shutdown(ctx))
	require.False(t, a.Alive())
	require.False(t, b.Alive())
}

func TestMarkerSplitAcrossReads(t *testing.T) {
	var mirror bytes.Buffer
	reg := NewRegistry(Config{Mirror: &mirror})
	w := &Worker{nickname: "w1", cfg: &reg.cfg, lineStart: true}
	ctx := context.Background()

	cut := len(WaitingMarker) / 2
	w.pending = []byte("ask" + WaitingMarker[:cut])
	require.True(t, w.drain(ctx, false))
	require.False(t, w.markerSeen())

	w.pending = []byte(WaitingMarker[cut:] + ">> ")
	require.True(t, w.drain(ctx, false))
	require.True(t, w.markerSeen())

	require.Equal(t, "ask>> ", w.Output())
	require.Equal(t, "@w1 | ask>> ", mirror.String())
}

func TestPartialMarkerFlushedAtExit(t *testing.T) {
	reg := NewRegistry(Config{})
	w := &Worker{nickname: "w1", cfg: &reg.cfg, lineStart: true}
	ctx := context.Background()

	w.pending = []byte("end\x1e")
	require.True(t, w.drain(ctx, false))
	require.Equal(t, "end", w.Output())
	require.True(t, w.drain(ctx, true))
	require.Equal(t, "end\x1e", w.Output())
	require.False(t, w.markerSeen())
}

func TestView(t *testing.T) {
	h := newHarness(t, Config{})
	require.Equal(t, "WORKERS: (none)", h.reg.View())

	_, err := h.reg.Spawn(testContext(t), "w1", "report")
	require.NoError(t, err)
	require.Equal(t, "WORKERS:\n- w1: waiting for input", h.reg.View())
}

func TestSelfCommand(t *testing.T) {
	command, err := SelfCommand("--model", "m")
	require.NoError(t, err)

	cmd := command("w1", "-do the thing")
	require.Equal(t, []string{
		"--quick-fail", "--subagent", "--nickname", "w1",
		"--model", "m",
		"--", "-do the thing",
	}, cmd.Args[1:])
}
