package conflict

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	errs "github.com/illarion/envsync/internal/errors"
)

// TerminalPrompter asks the user to settle each conflict with a single key.
type TerminalPrompter struct {
	In     io.Reader
	Out    io.Writer
	Reveal bool // print values instead of their lengths

	lines *bufio.Reader
}

// NewTerminalPrompter returns a prompter on stdin and stdout.
func NewTerminalPrompter(reveal bool) *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stdout, Reveal: reveal}
}

// Decide implements DecideFunc.
func (p *TerminalPrompter) Decide(key, local, remote string) (Decision, error) {
	fmt.Fprintf(p.Out, "\nwarning: conflict detected: %s\n", key)
	fmt.Fprintf(p.Out, "   local:  %s\n", p.show(local))
	fmt.Fprintf(p.Out, "   remote: %s\n", p.show(remote))
	fmt.Fprintf(p.Out, "\nOptions:\n")
	fmt.Fprintf(p.Out, "  [l] Keep local value\n")
	fmt.Fprintf(p.Out, "  [r] Use remote value (overwrite local)\n")
	fmt.Fprintf(p.Out, "  [a] Abort\n")

	for {
		fmt.Fprintf(p.Out, "\nYour choice: ")
		choice, err := p.readChoice()
		if err != nil {
			return 0, err
		}

		switch choice {
		case "l":
			return TakeLocal, nil
		case "r":
			return TakeRemote, nil
		case "a":
			return 0, errs.ErrAborted
		default:
			fmt.Fprintf(p.Out, "Invalid choice. Please enter l, r, a\n")
		}
	}
}

// Policy returns an Interactive policy backed by p.
func (p *TerminalPrompter) Policy() Policy {
	return Interactive(p.Decide)
}

func (p *TerminalPrompter) show(v string) string {
	if p.Reveal {
		return fmt.Sprintf("%q", v)
	}
	return fmt.Sprintf("(%d chars)", len(v))
}

// readChoice reads a single character choice from the terminal
func (p *TerminalPrompter) readChoice() (string, error) {
	// Try to use raw mode for single-key input
	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		oldState, err := term.MakeRaw(int(f.Fd()))
		if err == nil {
			defer func() { _ = term.Restore(int(f.Fd()), oldState) }()

			buf := make([]byte, 1)
			if _, err := f.Read(buf); err != nil {
				return "", err
			}
			choice := strings.ToLower(string(buf[0]))
			fmt.Fprintf(p.Out, "%s\r\n", choice) // Echo the choice
			return choice, nil
		}
	}

	// Fallback to line input
	if p.lines == nil {
		p.lines = bufio.NewReader(p.In)
	}
	line, err := p.lines.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", errs.ErrAborted
		}
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(line)), nil
}
