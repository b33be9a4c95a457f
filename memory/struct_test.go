package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/richinex/morph/storage"
	"github.com/richinex/morph/tools"
)

func TestWriteCreatesIntermediateMaps(t *testing.T) {
	ctx := context.Background()
	s := NewStruct("", nil)

	require.NoError(t, s.Write(ctx, "a.b.c", 1))
	v, ok := s.Get("a.b.c")
	require.True(t, ok)
	require.Equal(t, 1, v)

	require.NoError(t, s.Write(ctx, "a.b.d", "x"))
	v, ok = s.Get("a.b")
	require.True(t, ok)
	require.Equal(t, map[string]any{"c": 1, "d": "x"}, v)
}

func TestWriteThroughScalarFails(t *testing.T) {
	ctx := context.Background()
	s := NewStruct("", map[string]any{"a": "leaf"})

	err := s.Write(ctx, "a.b", 1)
	require.ErrorContains(t, err, `"a" is a string`)
}

func TestDrop(t *testing.T) {
	ctx := context.Background()
	s := NewStruct("", nil)
	require.NoError(t, s.Write(ctx, "a.b.c", 1))
	require.NoError(t, s.Write(ctx, "a.b.keep", 2))

	require.NoError(t, s.Drop(ctx, "a.b.c"))
	_, ok := s.Get("a.b.c")
	require.False(t, ok)
	_, ok = s.Get("a.b.keep")
	require.True(t, ok)

	require.NoError(t, s.Drop(ctx, "missing.path"))
	require.NoError(t, s.Drop(ctx, "a.b.keep.deeper"))
}

func TestInvalidPath(t *testing.T) {
	s := NewStruct("", nil)
	require.Error(t, s.Write(context.Background(), "a..b", 1))
	require.Error(t, s.Drop(context.Background(), ""))
}

func TestView(t *testing.T) {
	s := NewStruct("", map[string]any{
		"observations": map[string]any{"first": "note"},
	})
	require.Equal(t, "DATA:\nobservations:\n  first: note\n", s.View())
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)

	s := NewStruct("", nil).WithStore(store, "w1")
	require.NoError(t, s.Write(ctx, "plan.step", "one"))

	reloaded := NewStruct("", map[string]any{"seed": true}).WithStore(store, "w1")
	require.NoError(t, reloaded.Load(ctx))
	v, ok := reloaded.Get("plan.step")
	require.True(t, ok)
	require.Equal(t, "one", v)
	_, ok = reloaded.Get("seed")
	require.False(t, ok, "stored state replaces the seed")
}

func TestFeatureThroughExecutor(t *testing.T) {
	ctx := context.Background()
	s := NewStruct("", nil)
	table := tools.NewRegistry()
	require.NoError(t, table.RegisterFeature(s.Feature()))
	exec := tools.NewExecutor(table)

	report := exec.Execute(ctx, `memory_struct.write("goals.main", ["ship", "test"])`)
	require.False(t, report.HasFault(), report.Fault)
	require.Equal(t, tools.NoOutput, report.String())

	v, ok := s.Get("goals.main")
	require.True(t, ok)
	require.Equal(t, []any{"ship", "test"}, v)

	report = exec.Execute(ctx, `memory_struct.drop(path="goals")`)
	require.False(t, report.HasFault(), report.Fault)
	_, ok = s.Get("goals")
	require.False(t, ok)

	text := s.Feature().Render()
	require.Contains(t, text, "# [BEGIN_FEATURE: memory_struct]")
	require.Contains(t, text, "memory_struct.write(path: string, value: any)")
}
