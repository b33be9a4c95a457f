// Tool Executor - evaluates call text against the tool table.
//
// Information Hiding:
// - Call parsing and argument binding hidden
// - Output capture hidden
// - Halt-on-fault policy hidden

package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/richinex/morph/internal/callexpr"
)

// NoOutput is the report text of a call that returned, printed and raised nothing.
const NoOutput = "(silently executed with no output)"

// Report is the outcome of executing one call text.
type Report struct {
	Call    string
	Return  string
	Printed string
	Fault   string
}

// HasFault reports whether the call raised.
func (r Report) HasFault() bool {
	return r.Fault != ""
}

// String formats the report sections, or NoOutput when all are empty.
func (r Report) String() string {
	var b strings.Builder
	if r.Return != "" {
		b.WriteString("-> " + strings.TrimSpace(r.Return) + "\n")
	}
	if r.Printed != "" {
		b.WriteString("[PRINTED]:\n" + r.Printed + "\n")
	}
	if r.Fault != "" {
		b.WriteString("[ERROR]:\n" + r.Fault + "\n")
	}
	if b.Len() == 0 {
		return NoOutput
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Executor runs call text against a Registry.
type Executor struct {
	table       *Registry
	haltOnFault bool
	exit        func(int)
	console     io.Writer
	logger      *zap.Logger
}

// NewExecutor creates an executor over the given tool table.
func NewExecutor(table *Registry) *Executor {
	return &Executor{
		table:   table,
		exit:    os.Exit,
		console: os.Stdout,
		logger:  zap.NewNop(),
	}
}

// WithHaltOnFault makes the first fault print its report and exit with status 1.
func (e *Executor) WithHaltOnFault(enabled bool) *Executor {
	e.haltOnFault = enabled
	return e
}

// WithExit replaces the process exit function.
func (e *Executor) WithExit(exit func(int)) *Executor {
	e.exit = exit
	return e
}

// WithConsole sets where the halting report is printed.
func (e *Executor) WithConsole(w io.Writer) *Executor {
	e.console = w
	return e
}

// WithLogger sets the logger.
func (e *Executor) WithLogger(logger *zap.Logger) *Executor {
	e.logger = logger
	return e
}

// Execute parses text as one or more calls and runs them in order.
// Returns are joined by newlines; the first fault stops the sequence.
// Malformed syntax is reported as a fault.
func (e *Executor) Execute(ctx context.Context, text string) Report {
	report := Report{Call: strings.TrimSpace(text)}

	calls, err := callexpr.ParseAll(text)
	if err != nil {
		report.Fault = err.Error()
		return e.finish(report)
	}

	out := &syncBuffer{}
	var returns []string
	for _, call := range calls {
		ret, err := e.invoke(ctx, call, out)
		if ret != "" {
			returns = append(returns, ret)
		}
		if err != nil {
			report.Fault = err.Error()
			break
		}
	}

	report.Return = strings.Join(returns, "\n")
	printed := out.String()
	if !strings.HasPrefix(printed, NoCaptureMarker) {
		report.Printed = strings.TrimRight(printed, "\n")
	}
	return e.finish(report)
}

// Reject reports call text that could not be delimited as a fault, under
// the same halting policy as any other fault.
func (e *Executor) Reject(text string, err error) Report {
	return e.finish(Report{Call: strings.TrimSpace(text), Fault: err.Error()})
}

func (e *Executor) finish(report Report) Report {
	if !report.HasFault() {
		return report
	}
	e.logger.Warn("tool fault", zap.String("call", report.Call), zap.String("fault", report.Fault))
	if e.haltOnFault {
		fmt.Fprintf(e.console, "CALL: %s\n%s\n", report.Call, report.String())
		e.exit(1)
	}
	return report
}

func (e *Executor) invoke(ctx context.Context, call callexpr.Call, out io.Writer) (ret string, err error) {
	tool, ok := e.table.Get(call.Name)
	if !ok {
		return "", fmt.Errorf("unknown tool '%s'", call.Name)
	}

	args, err := Bind(tool.Metadata(), call)
	if err != nil {
		return "", err
	}
	if err := tool.Validate(args); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s() panicked: %v", call.Name, r)
		}
	}()

	e.logger.Debug("executing tool", zap.String("tool", call.Name))
	result, err := tool.Execute(WithStdout(ctx, out), args)
	if err != nil {
		return "", err
	}
	return result.Output, result.Error
}

// syncBuffer lets tools write from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
