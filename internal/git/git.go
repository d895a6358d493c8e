package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// Status contains git hygiene information for a working copy
type Status struct {
	IsRepo         bool
	WorkingCopy    string
	Tracked        bool // working copy is tracked by git (bad)
	Ignored        bool // working copy is in .gitignore (good)
	HistoryTracked bool // encrypted history database is tracked
}

// IsGitRepo checks if the working directory is inside a git repository
func IsGitRepo(workDir string) bool {
	cmd := exec.Command("git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = workDir
	err := cmd.Run()
	return err == nil
}

// IsTracked checks if a file is tracked by git
func IsTracked(workDir, path string) bool {
	cmd := exec.Command("git", "ls-files", "--", path)
	cmd.Dir = workDir
	output, err := cmd.Output()

	if err != nil {
		return false
	}

	return len(strings.TrimSpace(string(output))) > 0
}

// IsIgnored checks if a file is ignored by git (handles all .gitignore files)
func IsIgnored(workDir, path string) bool {
	cmd := exec.Command("git", "check-ignore", "-q", "--", path)
	cmd.Dir = workDir
	err := cmd.Run()

	// git check-ignore returns exit code 0 if file is ignored
	return err == nil
}

// Check inspects how git treats the working copy and the history database.
// Paths are relative to workDir.
func Check(workDir, workingCopy, historyPath string) *Status {
	status := &Status{WorkingCopy: workingCopy}

	if !IsGitRepo(workDir) {
		return status
	}
	status.IsRepo = true

	status.Tracked = IsTracked(workDir, workingCopy)
	status.Ignored = IsIgnored(workDir, workingCopy)
	if historyPath != "" {
		status.HistoryTracked = IsTracked(workDir, historyPath)
	}
	return status
}

// Healthy reports whether the working copy is safe from being committed.
func (s *Status) Healthy() bool {
	return !s.IsRepo || (!s.Tracked && s.Ignored)
}

// Format formats git status for display
func (s *Status) Format() string {
	if !s.IsRepo {
		return ""
	}

	var result strings.Builder
	result.WriteString("\nGit Integration:\n")

	// A tracked working copy means plaintext secrets are in git
	if s.Tracked {
		result.WriteString(fmt.Sprintf("   error: %s is tracked by git (run: git rm --cached %s)\n", s.WorkingCopy, s.WorkingCopy))
	} else {
		result.WriteString(fmt.Sprintf("   ok: %s is not tracked by git\n", s.WorkingCopy))
	}

	if s.Ignored {
		result.WriteString(fmt.Sprintf("   ok: %s is in .gitignore\n", s.WorkingCopy))
	} else if !s.Tracked {
		result.WriteString(fmt.Sprintf("   warning: %s not in .gitignore (add to .gitignore)\n", s.WorkingCopy))
	} else {
		result.WriteString(fmt.Sprintf("   warning: %s not in .gitignore\n", s.WorkingCopy))
	}

	if s.HistoryTracked {
		result.WriteString("   ok: encrypted history is tracked by git\n")
	}

	return result.String()
}
