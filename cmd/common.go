package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/illarion/envsync/internal/core"
	"github.com/illarion/envsync/internal/diff"
	errs "github.com/illarion/envsync/internal/errors"
)

var (
	errNotInitialized     = errors.New("envsync not initialized")
	errAlreadyInitialized = errors.New("envsync already initialized")
	errLocked             = errors.New("project is locked by another envsync process")
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	bold   = color.New(color.Bold)
)

func success(w io.Writer, format string, args ...any) {
	green.Fprint(w, "✓ ")
	fmt.Fprintf(w, format+"\n", args...)
}

func warn(w io.Writer, format string, args ...any) {
	yellow.Fprint(w, "warning: ")
	fmt.Fprintf(w, format+"\n", args...)
}

// HandleError prints err for the user and returns the exit code.
func HandleError(w io.Writer, err error) int {
	switch {
	case errs.IsSilent(err):
		fmt.Fprintln(w, "Nothing to do: no changes")
		return 0
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(w, "Interrupted")
		return 130
	case errors.Is(err, errNotInitialized):
		red.Fprintln(w, "Error: envsync not initialized")
		fmt.Fprintln(w, "Run 'envsync init' first")
	case errors.Is(err, errAlreadyInitialized):
		red.Fprintln(w, "Error: .envsync already exists in this directory")
		fmt.Fprintln(w, "Use 'envsync status' to see current state")
	case errors.Is(err, core.ErrNoIdentity):
		red.Fprintln(w, "Error: no identity secret")
		fmt.Fprintf(w, "Set %s or run 'envsync identity set'\n", core.IdentityEnv)
	case errs.Is(err, errs.ErrIntegrity):
		red.Fprintln(w, "Error: integrity check failed")
		fmt.Fprintln(w, "The identity secret is wrong or the history has been tampered with")
	case errs.Is(err, errs.ErrMalformedPayload):
		red.Fprintf(w, "Error: %s\n", err)
		fmt.Fprintln(w, "The history is corrupted")
	case errs.Is(err, errs.ErrDanglingReference):
		red.Fprintf(w, "Error: %s\n", err)
		fmt.Fprintln(w, "Run 'envsync verify' for details")
	case errs.Is(err, errs.ErrAborted):
		fmt.Fprintln(w, "Aborted, nothing was changed")
	default:
		red.Fprintf(w, "Error: %s\n", err)
	}
	return 1
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatChanges(s diff.Summary) string {
	return fmt.Sprintf("+%d ~%d -%d", len(s.Added), len(s.Modified), len(s.Deleted))
}

// formatSize formats bytes as human-readable size
func formatSize(size int64) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%d B", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	}
}
