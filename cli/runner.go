// Command execution for the morph CLI.
//
// Information Hiding:
// - Wiring of storage, tools, swarm and control loop hidden
// - Signal and control channel handling hidden
// - Provider construction hidden

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/morph/agent"
	"github.com/richinex/morph/config"
	"github.com/richinex/morph/console"
	"github.com/richinex/morph/internal/tags"
	"github.com/richinex/morph/llm"
	"github.com/richinex/morph/mcp"
	"github.com/richinex/morph/memory"
	"github.com/richinex/morph/storage"
	"github.com/richinex/morph/swarm"
	"github.com/richinex/morph/tools"
)

// DefaultNickname names the root process when --nickname is not given.
const DefaultNickname = "master"

const (
	workerShutdownGrace = 5 * time.Second
	interruptGrace      = 10 * time.Second
	interruptExitCode   = 130
)

// Options holds CLI execution options.
type Options struct {
	Provider   string
	ConfigPath string
	Nickname   string
	Subagent   bool
	QuickFail  bool
	Fresh      bool
	Verbose    bool
	MCPServers []string
	MCPConfig  string
	// Instruction is the first user message. Empty resumes or starts with "...".
	Instruction string

	// Backend replaces the one built from settings.
	Backend llm.Backend
	Stdin   io.Reader
	Stdout  io.Writer
	Stderr  io.Writer
	// Exit terminates the process. Defaults to os.Exit.
	Exit func(code int)
}

func (o *Options) applyDefaults() {
	if o.Nickname == "" {
		o.Nickname = DefaultNickname
	}
	if o.Stdin == nil {
		o.Stdin = os.Stdin
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Exit == nil {
		o.Exit = os.Exit
	}
}

// Run wires one morph process and runs its control loop until ctx is
// cancelled, the loop fails, or a shutdown request purges this nickname's
// state and exits the process with status 0.
func Run(ctx context.Context, opts Options) (err error) {
	opts.applyDefaults()

	settings, err := config.Load(opts.Provider, opts.ConfigPath)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(settings, opts.Nickname, opts.Verbose)
	if err != nil {
		return err
	}
	defer closeLog()

	backing, err := openStore(settings)
	if err != nil {
		return err
	}
	store := storage.NewSealable(backing)
	defer store.Close()

	if opts.Fresh {
		if err := storage.Purge(ctx, store, opts.Nickname); err != nil {
			return fmt.Errorf("failed to clear state of %s: %w", opts.Nickname, err)
		}
		logger.Info("cleared persisted state")
	}

	backend := opts.Backend
	if backend == nil {
		if backend, err = createBackend(settings, logger); err != nil {
			return err
		}
	}

	con := console.New(opts.Stdin, opts.Stdout)

	log := agent.NewLog(settings.Agent.HistorySize).WithStore(store, opts.Nickname)
	if err := log.Load(ctx); err != nil {
		return err
	}
	mem := memory.NewStruct(memory.DefaultName, nil).WithStore(store, opts.Nickname)
	if err := mem.Load(ctx); err != nil {
		return err
	}

	command, err := swarm.SelfCommand(childFlags(opts, settings)...)
	if err != nil {
		return err
	}
	registry := swarm.NewRegistry(swarm.Config{
		Command:         command,
		Self:            opts.Nickname,
		Inbox:           log,
		Mirror:          con,
		Prefix:          console.WorkerPrefix,
		Stderr:          opts.Stderr,
		PollInterval:    settings.Swarm.PollInterval,
		IdleTimeout:     settings.Swarm.IdleTimeout,
		Detector:        swarm.BlockedOnStdin,
		CaseInsensitive: settings.Agent.CaseInsensitiveTags,
		Logger:          logger,
	})
	var stopOnce sync.Once
	stopWorkers := func() {
		stopOnce.Do(func() {
			sctx, cancel := context.WithTimeout(context.Background(), workerShutdownGrace)
			defer cancel()
			if err := registry.Shutdown(sctx); err != nil {
				logger.Warn("worker shutdown incomplete", zap.Error(err))
			}
		})
	}
	defer stopWorkers()

	table, err := buildTable(con, opts.Subagent, settings, mem, registry)
	if err != nil {
		return err
	}

	servers, err := loadMCPServers(opts.MCPServers, opts.MCPConfig)
	if err != nil {
		return err
	}
	mcpManager := mcp.NewManager(logger)
	defer mcpManager.Close()
	if len(servers.MCPServers) > 0 {
		if err := mcpManager.ConnectAll(ctx, servers); err != nil {
			con.Error("some MCP servers are unavailable: %v", err)
		}
		mcpManager.Install(table)
	}

	exit := func(code int) {
		stopWorkers()
		_ = logger.Sync()
		opts.Exit(code)
	}

	executor := tools.NewExecutor(table).
		WithHaltOnFault(opts.QuickFail).
		WithExit(exit).
		WithConsole(con).
		WithLogger(logger)

	extractor := tags.Extractor{
		CaseInsensitive: settings.Agent.CaseInsensitiveTags,
		Strict:          settings.Agent.StrictTags,
	}
	renderer := agent.NewRenderer(settings.Agent.CallTag).
		WithPersona(settings.Agent.Persona).
		WithIdentity(opts.Nickname, opts.Subagent)
	loop := agent.NewLoop(backend, log, table, executor, con).
		WithRenderer(renderer).
		WithCallTag(settings.Agent.CallTag, extractor).
		AsSubagent(opts.Subagent).
		Streaming(settings.LLM.Stream).
		WithLogger(logger)

	done := make(chan struct{})
	defer close(done)

	// Shutdown request: purge this nickname and leave with status 0.
	var cleanupOnce sync.Once
	cleanup := func(source string) {
		cleanupOnce.Do(func() {
			logger.Info("shutdown requested", zap.String("source", source))
			stopWorkers()
			if err := store.PurgeAndSeal(context.Background(), opts.Nickname); err != nil {
				logger.Error("failed to purge state", zap.Error(err))
			}
			exit(0)
		})
	}
	swarm.WatchControl(func() { cleanup("control") })
	if len(swarm.ShutdownSignals) > 0 {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, swarm.ShutdownSignals...)
		defer signal.Stop(sigs)
		go func() {
			select {
			case <-sigs:
				cleanup("signal")
			case <-done:
			}
		}()
	}

	// Interrupt: stop workers at once; if the loop is stuck waiting for the
	// operator, leave after a grace period.
	stopInterrupt := context.AfterFunc(ctx, func() {
		stopWorkers()
		select {
		case <-done:
		case <-time.After(interruptGrace):
			logger.Warn("loop did not stop after interrupt")
			exit(interruptExitCode)
		}
	})
	defer stopInterrupt()

	logger.Info("control loop starting",
		zap.String("backend", backend.Name()),
		zap.String("model", backend.Model()),
		zap.Bool("subagent", opts.Subagent),
		zap.Strings("tools", table.Names()))

	err = loop.Run(ctx, opts.Instruction)
	if errors.Is(err, context.Canceled) {
		logger.Info("control loop stopped")
		return nil
	}
	if err != nil {
		logger.Error("control loop failed", zap.Error(err))
	}
	return err
}

// buildTable registers every built-in feature.
func buildTable(con *console.Console, subagent bool, settings config.Settings, mem *memory.Struct, registry *swarm.Registry) (*tools.Registry, error) {
	table := tools.NewRegistry()
	features := []tools.Feature{
		{
			Name:  "core",
			Tools: []tools.Tool{swarm.NewRequestMasterTool(con, subagent), tools.NewRestartTool()},
		},
		tools.FilesystemFeature(),
		tools.ShellFeature(settings.Agent.ToolTimeoutSecs),
		mem.Feature(),
		registry.Feature(),
	}
	for _, f := range features {
		if err := table.RegisterFeature(f); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// childFlags are passed to every worker after the subagent flags.
func childFlags(opts Options, settings config.Settings) []string {
	flags := []string{"--provider", settings.LLM.Provider}
	if opts.ConfigPath != "" {
		path, err := filepath.Abs(opts.ConfigPath)
		if err != nil {
			path = opts.ConfigPath
		}
		flags = append(flags, "--config", path)
	}
	if opts.Verbose {
		flags = append(flags, "--verbose")
	}
	for _, server := range opts.MCPServers {
		flags = append(flags, "--mcp", server)
	}
	if opts.MCPConfig != "" {
		flags = append(flags, "--mcp-config", opts.MCPConfig)
	}
	return flags
}

// loadMCPServers merges the config file with servers given on the command line.
func loadMCPServers(mcpServers []string, mcpConfigPath string) (*mcp.Config, error) {
	cfg := &mcp.Config{}
	if mcpConfigPath != "" {
		loaded, err := mcp.LoadConfig(mcpConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load MCP config: %w", err)
		}
		cfg = loaded
	}
	for _, line := range mcpServers {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := cfg.AddCommand(line); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// createBackend builds the configured backend with retries on transient
// failures.
func createBackend(settings config.Settings, logger *zap.Logger) (llm.Backend, error) {
	providerType, err := llm.ParseProviderType(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	apiKey, err := config.APIKeyFor(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	backend, err := llm.New(providerType, llm.Options{
		APIKey:      apiKey,
		Model:       settings.LLM.Model,
		MaxTokens:   settings.LLM.MaxTokens,
		Temperature: llm.Temperature(float32(settings.LLM.Temperature)),
	})
	if err != nil {
		return nil, err
	}

	policy := llm.DefaultRetryPolicy
	policy.Retries = settings.LLM.Retries
	return llm.WithRetry(backend, policy, logger), nil
}
