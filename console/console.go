// Package console is the operator terminal.
//
// Information Hiding:
// - Styling hidden behind semantic print methods
// - A single buffered reader over stdin shared by every consumer
// - Writes serialised so worker mirroring and loop output never interleave mid-line

package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

var (
	callStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	textStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	faultStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	workerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
)

// Console writes to the operator and reads lines from them.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	in  *bufio.Reader
}

// New creates a console over the given streams.
func New(in io.Reader, out io.Writer) *Console {
	return &Console{
		out: out,
		in:  bufio.NewReader(in),
	}
}

// Write implements io.Writer so the console can be handed to tools and workers.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

// Print writes text verbatim.
func (c *Console) Print(text string) {
	_, _ = io.WriteString(c, text)
}

// Println writes text followed by a newline.
func (c *Console) Println(text string) {
	c.Print(text + "\n")
}

// Call prints the header for one executed call.
func (c *Console) Call(text string) {
	c.Println(callStyle.Render("CALL:") + " " + textStyle.Render(text))
}

// Report prints a call report, highlighting the error section.
func (c *Console) Report(report string) {
	head, fault, found := strings.Cut(report, "[ERROR]:")
	if !found {
		c.Println(dimStyle.Render(report))
		return
	}
	if head != "" {
		c.Print(dimStyle.Render(head))
	}
	c.Println(faultStyle.Render("[ERROR]:" + fault))
}

// Error prints an operator-facing failure.
func (c *Console) Error(format string, args ...any) {
	c.Println(faultStyle.Render(fmt.Sprintf(format, args...)))
}

// Notice prints secondary information.
func (c *Console) Notice(format string, args ...any) {
	c.Println(dimStyle.Render(fmt.Sprintf(format, args...)))
}

// WorkerPrefix is the line prefix used when mirroring a worker's output.
func WorkerPrefix(nickname string) string {
	return workerStyle.Render("@"+nickname+" |") + " "
}

// ReadLine blocks for one line of input, without the line terminator.
// A final line without terminator is returned before io.EOF.
func (c *Console) ReadLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Prompt prints text and reads the reply.
func (c *Console) Prompt(text string) (string, error) {
	c.Print(text)
	return c.ReadLine()
}
