package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/richinex/morph/config"
	"github.com/richinex/morph/llm"
	"github.com/richinex/morph/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("os/signal.signal_recv"),
		goleak.IgnoreTopFunction("os/signal.loop"),
	)
}

// scriptedBackend replies with canned text in order and cancels the run
// once stopAfter requests have been answered.
type scriptedBackend struct {
	mu        sync.Mutex
	replies   []string
	requests  []llm.Request
	stopAfter int
	cancel    context.CancelFunc
}

func (b *scriptedBackend) Name() string  { return "scripted" }
func (b *scriptedBackend) Model() string { return "test" }

func (b *scriptedBackend) Complete(ctx context.Context, req llm.Request) (llm.Reply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	n := len(b.requests)
	if n >= b.stopAfter {
		b.cancel()
	}
	return llm.Reply{Text: b.replies[min(n, len(b.replies))-1]}, nil
}

func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, key := range []string{"MORPH_CONFIG", "MORPH_LOG_FILE", "MORPH_HISTORY_SIZE", "MORPH_CALL_TAG",
		"MORPH_STRICT_TAGS", "MORPH_STREAM", "MORPH_PROVIDER", "ANTHROPIC_MODEL"} {
		t.Setenv(key, "")
	}
	t.Setenv("MORPH_DATA_DIR", dir)
	t.Setenv("MORPH_STORAGE", config.BackendFile)
	return dir
}

func runScripted(t *testing.T, opts Options, stopAfter int, replies ...string) (*scriptedBackend, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := &scriptedBackend{replies: replies, stopAfter: stopAfter, cancel: cancel}
	var out bytes.Buffer
	opts.Backend = backend
	opts.Stdin = strings.NewReader("")
	opts.Stdout = &out
	opts.Stderr = &out
	if opts.Exit == nil {
		opts.Exit = func(code int) { t.Fatalf("unexpected exit %d", code) }
	}

	require.NoError(t, Run(ctx, opts))
	return backend, out.String()
}

func TestRunPersistsStatePerNickname(t *testing.T) {
	dir := testEnv(t)

	_, out := runScripted(t, Options{Nickname: "w1", Instruction: "take notes"}, 2,
		`<CALL>memory_struct.write("notes.first", "hello")</CALL>`,
		`<CALL>ls(".")</CALL>`,
	)
	require.Contains(t, out, "CALL:")

	store, err := storage.NewFileStorage(dir)
	require.NoError(t, err)
	ctx := context.Background()

	state, err := store.LoadState(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"notes": map[string]any{"first": "hello"}}, state)

	history, err := store.Load(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, llm.UserMessage("take notes"), history[0])
	require.Equal(t, llm.RoleAssistant, history[1].Role)

	require.FileExists(t, filepath.Join(dir, "w1", "morph.log"))
}

func TestRunResumesThenFreshClears(t *testing.T) {
	testEnv(t)
	write := `<CALL>memory_struct.write("k", "v")</CALL>`

	runScripted(t, Options{Nickname: "w1", Instruction: "first"}, 1, write)

	resumed, _ := runScripted(t, Options{Nickname: "w1"}, 1, write)
	first := resumed.requests[0]
	require.Contains(t, first.System, "k: v")
	require.Equal(t, llm.UserMessage("first"), first.Dialogue[0])

	fresh, _ := runScripted(t, Options{Nickname: "w1", Fresh: true, Instruction: "again"}, 1, write)
	first = fresh.requests[0]
	require.NotContains(t, first.System, "k: v")
	require.Equal(t, []llm.ChatMessage{llm.UserMessage("again")}, first.Dialogue)
}

func TestRunQuickFailExits(t *testing.T) {
	testEnv(t)
	var codes []int

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	backend := &scriptedBackend{replies: []string{`<CALL>nope()</CALL>`}, stopAfter: 100, cancel: cancel}
	var out bytes.Buffer

	err := Run(ctx, Options{
		Nickname:    "w1",
		QuickFail:   true,
		Instruction: "go",
		Backend:     backend,
		Stdin:       strings.NewReader(""),
		Stdout:      &out,
		Stderr:      &out,
		Exit: func(code int) {
			codes = append(codes, code)
			cancel()
		},
	})
	require.NoError(t, err)
	require.Equal(t, []int{1}, codes)
	require.Contains(t, out.String(), "unknown tool 'nope'")
}

func TestRunSystemMessageListsFeatures(t *testing.T) {
	testEnv(t)

	backend, _ := runScripted(t, Options{Nickname: "w1", Subagent: true, Instruction: "go"}, 1,
		`<CALL>request_master("done")</CALL>`)

	system := backend.requests[0].System
	for _, want := range []string{
		"[BEGIN_FEATURE: core]",
		"request_master(message: string)",
		"[BEGIN_FEATURE: swarm]",
		"spawn_worker(nickname: string, master_instruction: string)",
		"[BEGIN_FEATURE: memory_struct]",
		"WORKERS: (none)",
		"w1",
	} {
		require.Contains(t, system, want)
	}
}

func TestChildFlags(t *testing.T) {
	settings := config.Defaults()
	settings.LLM.Provider = "openai"

	flags := childFlags(Options{
		Verbose:    true,
		MCPServers: []string{"npx server"},
		MCPConfig:  "mcp.json",
	}, settings)
	require.Equal(t, []string{
		"--provider", "openai",
		"--verbose",
		"--mcp", "npx server",
		"--mcp-config", "mcp.json",
	}, flags)
}

func TestLoadMCPServersMergesCommandLine(t *testing.T) {
	cfg, err := loadMCPServers([]string{"server-a --flag", " "}, "")
	require.NoError(t, err)
	require.Equal(t, []string{"cli-1"}, cfg.Names())
	require.Equal(t, "server-a", cfg.MCPServers["cli-1"].Command)
}

func TestOpenStoreBackends(t *testing.T) {
	for _, backend := range []string{config.BackendFile, config.BackendSqlite, config.BackendMemory} {
		t.Run(backend, func(t *testing.T) {
			settings := config.Defaults()
			settings.Storage.Backend = backend
			settings.Storage.DataDir = t.TempDir()

			store, err := openStore(settings)
			require.NoError(t, err)
			defer store.Close()

			ctx := context.Background()
			require.NoError(t, store.SaveState(ctx, "w1", map[string]any{"a": "b"}))
			state, err := store.LoadState(ctx, "w1")
			require.NoError(t, err)
			require.Equal(t, "b", state["a"])
		})
	}
}
