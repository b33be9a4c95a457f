package swarm

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/richinex/morph/console"
	"github.com/richinex/morph/tools"
)

func TestRequestMasterAsRoot(t *testing.T) {
	var out bytes.Buffer
	tool := NewRequestMasterTool(console.New(strings.NewReader("yes\n"), &out), false)

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"message":"proceed?"}`))
	require.NoError(t, err)
	require.NoError(t, res.Error)
	require.Equal(t, "<FROM_MASTER>yes</FROM_MASTER>", res.Output)
	require.Equal(t, "proceed?\n>> ", out.String())
}

func TestRequestMasterAsSubagent(t *testing.T) {
	var out bytes.Buffer
	tool := NewRequestMasterTool(console.New(strings.NewReader("go\n"), &out), true)

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"message":"blocked on x"}`))
	require.NoError(t, err)
	require.Equal(t, "<FROM_MASTER>go</FROM_MASTER>", res.Output)
	require.Equal(t, "<TO_MASTER>\nblocked on x\n</TO_MASTER>\n"+WaitingMarker+">> ", out.String())
}

func TestRequestMasterWithoutInput(t *testing.T) {
	tool := NewRequestMasterTool(console.New(strings.NewReader(""), &bytes.Buffer{}), true)

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"message":"hello"}`))
	require.NoError(t, err)
	require.Error(t, res.Error)
	require.Contains(t, res.Error.Error(), "no reply from master")
}

func TestSwarmFeatureThroughExecutor(t *testing.T) {
	h := newHarness(t, Config{})
	table := tools.NewRegistry()
	require.NoError(t, table.RegisterFeature(h.reg.Feature()))
	exec := tools.NewExecutor(table)
	ctx := testContext(t)

	report := exec.Execute(ctx, `spawn_worker("w1", "exit")`)
	require.False(t, report.HasFault(), report.Fault)
	require.Equal(t, "worker w1 finished", report.Return)

	report = exec.Execute(ctx, `spawn_worker(nickname="w2", master_instruction="report")`)
	require.False(t, report.HasFault(), report.Fault)
	require.Equal(t, "worker w2 is waiting for input", report.Return)

	report = exec.Execute(ctx, `kill_worker("w2")`)
	require.False(t, report.HasFault(), report.Fault)
	require.Empty(t, report.Return)

	report = exec.Execute(ctx, `request_worker("w2", "hi")`)
	require.True(t, report.HasFault())
	require.Contains(t, report.Fault, "unknown worker")

	require.Contains(t, table.Description(), "spawn_worker(nickname: string, master_instruction: string)")
}
