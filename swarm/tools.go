package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/richinex/morph/tools"
)

// Terminal is the process's own console, bypassing tool output capture.
type Terminal interface {
	Print(text string)
	ReadLine() (string, error)
}

// RequestMasterTool asks whoever supervises this process and blocks for the reply.
// A subagent addresses its master through a TO_MASTER block followed by the
// waiting marker. A root process asks the operator directly.
type RequestMasterTool struct {
	tools.BaseTool
	term     Terminal
	subagent bool
}

// NewRequestMasterTool creates the request_master tool.
func NewRequestMasterTool(term Terminal, subagent bool) *RequestMasterTool {
	return &RequestMasterTool{term: term, subagent: subagent}
}

func (t *RequestMasterTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name:        "request_master",
		Description: "Send a message to your master and wait for the reply",
		Parameters: []tools.ToolParameter{
			{Name: "message", ParamType: "string", Required: true},
		},
	}
}

type requestMasterArgs struct {
	Message string `json:"message"`
}

func (t *RequestMasterTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	var in requestMasterArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}

	if t.subagent {
		t.term.Print("<" + ToMasterTag + ">\n" + in.Message + "\n</" + ToMasterTag + ">\n" + WaitingMarker + ">> ")
	} else {
		t.term.Print(in.Message + "\n>> ")
	}

	reply, err := t.term.ReadLine()
	if err != nil {
		return tools.FailureResult(fmt.Errorf("no reply from master: %w", err)), nil
	}
	if t.subagent {
		reply = DecodeLine(reply)
	}
	return tools.SuccessResult("<FROM_MASTER>" + reply + "</FROM_MASTER>"), nil
}

// Feature bundles the worker management tools with a view of live workers.
func (r *Registry) Feature() tools.Feature {
	return tools.Feature{
		Name: "swarm",
		Tools: []tools.Tool{
			&spawnTool{r: r},
			&requestTool{r: r},
			&killTool{r: r},
		},
		Views: []tools.View{r.View},
	}
}

// status describes where a worker stopped after listening.
func status(w *Worker) string {
	if w.Alive() {
		return fmt.Sprintf("worker %s is %s", w.nickname, w.State())
	}
	if err := w.exitErr; err != nil {
		return fmt.Sprintf("worker %s exited: %v", w.nickname, err)
	}
	return fmt.Sprintf("worker %s finished", w.nickname)
}

// listenResult turns a spawn or request outcome into a tool result. w may be
// nil when err is set.
func listenResult(w *Worker, err error) (tools.ToolResult, error) {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return tools.ToolResult{}, err
		}
		return tools.FailureResult(err), nil
	}
	return tools.SuccessResult(status(w)), nil
}

type spawnTool struct {
	tools.BaseTool
	r *Registry
}

func (t *spawnTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name:        "spawn_worker",
		Description: "Spawn a new worker.\nImportant: do not repeat master_instruction with request_worker.",
		Parameters: []tools.ToolParameter{
			{Name: "nickname", ParamType: "string", Required: true},
			{Name: "master_instruction", ParamType: "string", Required: true},
		},
	}
}

type spawnArgs struct {
	Nickname    string `json:"nickname"`
	Instruction string `json:"master_instruction"`
}

func (t *spawnTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	var in spawnArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}
	return listenResult(t.r.Spawn(ctx, in.Nickname, in.Instruction))
}

type requestTool struct {
	tools.BaseTool
	r *Registry
}

func (t *requestTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name:        "request_worker",
		Description: "Send a message to a waiting worker and listen until it waits or finishes",
		Parameters: []tools.ToolParameter{
			{Name: "nickname", ParamType: "string", Required: true},
			{Name: "message", ParamType: "string", Required: true},
		},
	}
}

type requestArgs struct {
	Nickname string `json:"nickname"`
	Message  string `json:"message"`
}

func (t *requestTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	var in requestArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}
	return listenResult(t.r.Request(ctx, in.Nickname, in.Message))
}

type killTool struct {
	tools.BaseTool
	r *Registry
}

func (t *killTool) Metadata() tools.ToolMetadata {
	return tools.ToolMetadata{
		Name:        "kill_worker",
		Description: "Stop a worker and remove it",
		Parameters: []tools.ToolParameter{
			{Name: "nickname", ParamType: "string", Required: true},
		},
	}
}

type killArgs struct {
	Nickname string `json:"nickname"`
}

func (t *killTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	var in killArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return tools.ToolResult{}, fmt.Errorf("invalid arguments: %w", err)
	}
	if err := t.r.Kill(in.Nickname); err != nil {
		return tools.FailureResult(err), nil
	}
	return tools.SuccessResult(""), nil
}
