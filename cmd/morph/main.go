// Package main provides the morph CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/richinex/morph/cli"
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	cmd := rootCmd()
	args, dropped := dropUnknownFlags(cmd.Flags(), os.Args[1:])
	for _, flag := range dropped {
		fmt.Fprintf(os.Stderr, "Warning: ignoring unknown flag %s\n", flag)
	}
	cmd.SetArgs(args)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts cli.Options

	cmd := &cobra.Command{
		Use:   "morph [instruction...]",
		Short: "Tool-calling agent that can run a swarm of copies of itself",
		Long: `morph runs a conversation with a language model that acts through tool calls.

Calls are written inside <CALL>...</CALL> tags in the model's replies and their
results are fed back as the next message. With spawn_worker the model starts
copies of this program as workers; workers report back through request_master.

Positional arguments are joined with newlines to form the first instruction.
State is kept per nickname and resumed on the next run unless --fresh is given.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Instruction = strings.Join(args, "\n")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return cli.Run(ctx, opts)
		},
	}
	cmd.InitDefaultHelpFlag()

	flags := cmd.Flags()
	flags.BoolVar(&opts.QuickFail, "quick-fail", false, "Exit with status 1 on the first tool fault")
	flags.StringVar(&opts.Nickname, "nickname", cli.DefaultNickname, "Name of this process, used for persisted state and worker display")
	flags.BoolVar(&opts.Subagent, "subagent", false, "Run as a worker of another morph process")
	flags.BoolVar(&opts.Fresh, "fresh", false, "Clear persisted conversation and memory before starting")
	flags.StringVarP(&opts.Provider, "provider", "p", "", "LLM provider (openai, anthropic, deepseek, gemini)")
	flags.StringVar(&opts.ConfigPath, "config", "", "Path to a TOML config file (default morph.toml if present)")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "Log at debug level")
	flags.StringArrayVar(&opts.MCPServers, "mcp", nil, "MCP server command (repeatable)")
	flags.StringVar(&opts.MCPConfig, "mcp-config", "", "Path to MCP config file")

	return cmd
}

// dropUnknownFlags removes flags the command does not define, leaving their
// would-be values in place as positional arguments. Values of known flags
// and everything after "--" are kept untouched.
func dropUnknownFlags(flags *pflag.FlagSet, args []string) (kept, dropped []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			kept = append(kept, args[i:]...)
			break
		}
		if len(arg) < 2 || arg[0] != '-' {
			kept = append(kept, arg)
			continue
		}

		var flag *pflag.Flag
		name, _, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		switch {
		case name == "":
		case strings.HasPrefix(arg, "--"):
			flag = flags.Lookup(name)
		default:
			flag = flags.ShorthandLookup(name[:1])
			hasValue = hasValue || len(name) > 1
		}
		if flag == nil {
			dropped = append(dropped, arg)
			continue
		}

		kept = append(kept, arg)
		if !hasValue && flag.NoOptDefVal == "" && i+1 < len(args) {
			i++
			kept = append(kept, args[i])
		}
	}
	return kept, dropped
}
