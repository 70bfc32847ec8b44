// Package consent asks the user before symdeploy requests administrator
// rights. The operating system shows its own prompt afterwards; this gate
// explains why that prompt is about to appear and lets the user back out.
package consent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Decision is the user's answer.
type Decision int

const (
	Cancel Decision = iota
	Elevate
)

func (d Decision) String() string {
	if d == Elevate {
		return "elevate"
	}
	return "cancel"
}

// ErrNonInteractive is returned when a prompt is needed but no terminal is
// attached.
var ErrNonInteractive = errors.New("confirmation required but stdin is not a terminal (use --yes)")

// Prompt describes what is about to happen.
type Prompt struct {
	Title   string
	Message string
}

// Gate decides whether elevation may proceed.
type Gate interface {
	Confirm(ctx context.Context, prompt Prompt) (Decision, error)
}

// Static answers every prompt with the same decision.
type Static Decision

func (s Static) Confirm(context.Context, Prompt) (Decision, error) {
	return Decision(s), nil
}

// Terminal asks on an interactive terminal.
type Terminal struct {
	in          io.Reader
	out         io.Writer
	interactive func() bool
}

// NewTerminal builds a gate reading from stdin and writing to stderr.
func NewTerminal() *Terminal {
	return &Terminal{in: os.Stdin, out: os.Stderr, interactive: stdinIsTerminal}
}

// NewTerminalWithIO is NewTerminal with explicit streams, treated as interactive.
func NewTerminalWithIO(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out, interactive: func() bool { return true }}
}

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Confirm prints the prompt and reads a yes/no answer. Anything but an
// explicit yes cancels.
func (t *Terminal) Confirm(ctx context.Context, prompt Prompt) (Decision, error) {
	if !t.interactive() {
		return Cancel, ErrNonInteractive
	}
	if title := strings.TrimSpace(prompt.Title); title != "" {
		fmt.Fprintln(t.out, title)
	}
	if msg := strings.TrimSpace(prompt.Message); msg != "" {
		fmt.Fprintln(t.out, msg)
	}
	fmt.Fprint(t.out, "Continue? [y/N] ")

	answers := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(t.in).ReadString('\n')
		answers <- line
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(t.out)
		return Cancel, ctx.Err()
	case line := <-answers:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return Elevate, nil
		default:
			return Cancel, nil
		}
	}
}
