// Control loop - drives turns between the model and the tool table.
//
// Information Hiding:
// - Turn sequencing hidden
// - Call extraction and execution coordination hidden
// - Escalation policy for turns without calls hidden

package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/richinex/morph/internal/tags"
	"github.com/richinex/morph/llm"
	"github.com/richinex/morph/tools"
)

// DefaultCallTag delimits tool calls in model replies.
const DefaultCallTag = "CALL"

// Messages fed back to the model.
const (
	toolsOutputHeader = "TOOLS CALLING OUTPUT:"
	noCallsOutput     = toolsOutputHeader + " (no calls)"
	initialMessage    = "..."
)

// Operator is the human at the terminal.
type Operator interface {
	Print(text string)
	Call(text string)
	Report(report string)
	Error(format string, args ...any)
	Prompt(text string) (string, error)
}

// Loop runs the conversation. Exactly one turn is in flight at a time.
type Loop struct {
	backend   llm.Backend
	log       *Log
	table     *tools.Registry
	executor  *tools.Executor
	renderer  *Renderer
	operator  Operator
	extractor tags.Extractor
	callTag   string
	subagent  bool
	stream    bool
	logger    *zap.Logger
}

// NewLoop creates a loop over the given collaborators.
func NewLoop(backend llm.Backend, log *Log, table *tools.Registry, executor *tools.Executor, operator Operator) *Loop {
	return &Loop{
		backend:  backend,
		log:      log,
		table:    table,
		executor: executor,
		renderer: NewRenderer(DefaultCallTag),
		operator: operator,
		callTag:  DefaultCallTag,
		logger:   zap.NewNop(),
	}
}

// WithRenderer replaces the system prompt renderer.
func (l *Loop) WithRenderer(r *Renderer) *Loop {
	l.renderer = r
	return l
}

// WithCallTag sets the tag name and extraction policy for calls.
func (l *Loop) WithCallTag(tag string, extractor tags.Extractor) *Loop {
	l.callTag = tag
	l.extractor = extractor
	return l
}

// AsSubagent switches the escalation policy to the worker variant.
func (l *Loop) AsSubagent(subagent bool) *Loop {
	l.subagent = subagent
	return l
}

// Streaming echoes model tokens to the operator as they arrive.
func (l *Loop) Streaming(enabled bool) *Loop {
	l.stream = enabled
	return l
}

// WithLogger sets the logger.
func (l *Loop) WithLogger(logger *zap.Logger) *Loop {
	l.logger = logger
	return l
}

// Run appends the initial message and runs turns until ctx is cancelled or a
// turn fails. An empty initial message on an empty log starts with "...".
func (l *Loop) Run(ctx context.Context, initial string) error {
	switch {
	case initial != "":
		if err := l.log.Append(ctx, llm.UserMessage(initial)); err != nil {
			return err
		}
	case l.log.Len() == 0:
		if err := l.log.Append(ctx, llm.UserMessage(initialMessage)); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.Turn(ctx); err != nil {
			return err
		}
	}
}

// Turn renders the context, asks the model, executes every call in the reply
// and appends the aggregated result as the next turn-initiating message.
func (l *Loop) Turn(ctx context.Context) error {
	system, err := l.renderer.Render(l.table)
	if err != nil {
		return err
	}
	messages := append([]llm.ChatMessage{llm.SystemMessage(system)}, l.log.Messages()...)

	reply, err := l.ask(ctx, messages)
	if err != nil {
		l.operator.Error("model request failed: %v", err)
		return fmt.Errorf("model request failed: %w", err)
	}
	if err := l.log.Append(ctx, llm.AssistantMessage(reply)); err != nil {
		return err
	}

	reports, calls := l.executeCalls(ctx, reply)

	next := toolsOutputHeader + "\n" + strings.Join(reports, "\n")
	if calls == 0 {
		next, err = l.escalate(ctx)
		if err != nil {
			return err
		}
	}
	return l.log.Append(ctx, llm.UserMessage(strings.TrimSpace(next)))
}

func (l *Loop) ask(ctx context.Context, messages []llm.ChatMessage) (string, error) {
	req := llm.NewRequest(messages)
	if l.stream {
		req.OnText = l.operator.Print
	}
	l.logger.Debug("requesting completion",
		zap.String("backend", l.backend.Name()),
		zap.String("model", l.backend.Model()),
		zap.Int("messages", len(req.Dialogue)))

	reply, err := l.backend.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	if !l.stream {
		l.operator.Print(reply.Text)
	}
	l.operator.Print("\n\n")

	l.logger.Debug("completion done",
		zap.String("stop_reason", reply.StopReason),
		zap.Uint32("input_tokens", reply.Usage.Input),
		zap.Uint32("output_tokens", reply.Usage.Output))
	if reply.Truncated() {
		l.logger.Warn("reply hit the output token limit", zap.Uint32("output_tokens", reply.Usage.Output))
	}
	return reply.Text, nil
}

// executeCalls runs every call-tag block in document order. In strict mode an
// unterminated call tag counts as an attempted call that faulted.
func (l *Loop) executeCalls(ctx context.Context, reply string) ([]string, int) {
	var reports []string
	calls := 0
	for block, err := range l.extractor.Scan(reply) {
		if err != nil {
			var malformed *tags.MalformedError
			if errors.As(err, &malformed) && l.extractor.Match(malformed.Tag, l.callTag) {
				calls++
				report := l.executor.Reject("<"+malformed.Tag+">", err)
				l.operator.Report(report.String())
				reports = append(reports, report.String())
			}
			continue
		}
		if !l.extractor.Match(block.Tag, l.callTag) {
			continue
		}
		calls++

		report := l.executor.Execute(ctx, block.Content)
		l.operator.Call(report.Call)
		l.operator.Report(report.String())
		reports = append(reports, "CALL: "+report.Call+"\n"+report.String())
	}
	return reports, calls
}

// escalate handles a reply without calls. A worker is reminded to reach its
// master through request_master; the root waits for the operator, whose
// answer becomes the tool output.
func (l *Loop) escalate(ctx context.Context) (string, error) {
	l.logger.Info("reply contained no calls", zap.Bool("subagent", l.subagent))

	if l.subagent {
		reminder := fmt.Sprintf("[NO CALLS] I am a worker. Every turn must act through <%s>...</%s>; "+
			"to report to or ask my master I call request_master(message).", l.callTag, l.callTag)
		if err := l.log.Append(ctx, llm.AssistantMessage(reminder)); err != nil {
			return "", err
		}
		return noCallsOutput, nil
	}

	fault := fmt.Sprintf("[NO CALLS] The reply contained no <%s> block; waiting for the operator.", l.callTag)
	if err := l.log.Append(ctx, llm.AssistantMessage(fault)); err != nil {
		return "", err
	}
	l.operator.Error("%s", fault)

	answer, err := l.operator.Prompt("USER: ")
	if err != nil {
		return "", fmt.Errorf("failed to read operator input: %w", err)
	}
	return toolsOutputHeader + "\n" + answer, nil
}
