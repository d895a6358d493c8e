package conflict

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	errs "github.com/illarion/envsync/internal/errors"
)

func TestTerminalPrompterChoices(t *testing.T) {
	tests := []struct {
		input string
		want  Decision
		err   error
	}{
		{input: "l\n", want: TakeLocal},
		{input: "R\n", want: TakeRemote},
		{input: "x\nr\n", want: TakeRemote},
		{input: "a\n", err: errs.ErrAborted},
		{input: "", err: errs.ErrAborted},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			p := &TerminalPrompter{In: strings.NewReader(tt.input), Out: &out}

			got, err := p.Decide("API_KEY", "local-secret", "remote-secret")
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decide failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Decide() = %v, want %v", got, tt.want)
			}
			if !strings.Contains(out.String(), "conflict detected: API_KEY") {
				t.Errorf("prompt missing key:\n%s", out.String())
			}
			if strings.Contains(out.String(), "secret") {
				t.Error("values should be hidden unless Reveal is set")
			}
		})
	}
}

func TestTerminalPrompterReveal(t *testing.T) {
	var out bytes.Buffer
	p := &TerminalPrompter{In: strings.NewReader("l\n"), Out: &out, Reveal: true}

	if _, err := p.Policy().decide("A", "one", "two"); err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if !strings.Contains(out.String(), `"one"`) || !strings.Contains(out.String(), `"two"`) {
		t.Errorf("revealed prompt missing values:\n%s", out.String())
	}
}
