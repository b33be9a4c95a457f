package console

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadLine(t *testing.T) {
	c := New(strings.NewReader("first\r\nsecond\nlast"), io.Discard)

	for _, want := range []string{"first", "second", "last"} {
		got, err := c.ReadLine()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := c.ReadLine()
	require.ErrorIs(t, err, io.EOF)
}

func TestPrompt(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader("yes\n"), &out)

	reply, err := c.Prompt("continue?\n>> ")
	require.NoError(t, err)
	require.Equal(t, "yes", reply)
	require.Equal(t, "continue?\n>> ", out.String())
}

func TestCallAndReport(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out)

	c.Call("add(2, 3)")
	c.Report("-> 5")
	c.Report("[PRINTED]:\nhi\n[ERROR]:\nboom")

	text := out.String()
	require.Contains(t, text, "CALL:")
	require.Contains(t, text, "add(2, 3)")
	require.Contains(t, text, "-> 5")
	require.Contains(t, text, "[ERROR]:")
	require.Contains(t, text, "boom")
}

func TestWorkerPrefix(t *testing.T) {
	require.Contains(t, WorkerPrefix("w1"), "@w1 |")
}
