// Package guard provides static policy checks for destructive operations.
//
// The guard is authoritative: a hard-block match refuses the operation
// outright and no approval can override it. Warning matches allow the
// operation but attach an advisory. The approval-warrant bank (detector.go)
// is shared with the agent session's post-hoc response scanning.
package guard

import (
	"regexp"
	"strings"
)

// Severity ranks a blocked operation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
)

// Result is the outcome of a single guard check.
type Result struct {
	Allowed  bool
	Reason   string
	Severity Severity
	Warning  string
}

type blockPattern struct {
	re       *regexp.Regexp
	reason   string
	severity Severity
}

type warnPattern struct {
	re      *regexp.Regexp
	warning string
}

// Hard-block patterns. A match refuses the operation with no recourse.
var hardBlocks = []blockPattern{
	{regexp.MustCompile(`(?i)\bgit\s+push\b[^\n]*(\s--force\b|\s-f\b|\s--force-with-lease\b)`), "force push rewrites remote history", SeverityCritical},
	{regexp.MustCompile(`(?i)\bgit\s+reset\s+--hard\b`), "hard reset discards local work", SeverityHigh},
	{regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f[a-z]*|-[a-z]*f[a-z]*r[a-z]*)\s+(/|~)`), "recursive delete of root or home directory", SeverityCritical},
	{regexp.MustCompile(`(?i)\brm\s+-rf?\s+\*`), "recursive wildcard delete", SeverityCritical},
	{regexp.MustCompile(`(?i)\bsudo\s+rm\b`), "privileged file deletion", SeverityCritical},
	{regexp.MustCompile(`(?i)\bgh\s+repo\s+delete\b`), "repository deletion", SeverityCritical},
	{regexp.MustCompile(`(?i)\bnpm\s+unpublish\b`), "npm unpublish removes published packages", SeverityHigh},
	{regexp.MustCompile(`(?i)\bgit\s+push\b[^\n]*\s(--delete|:)\s*[\w./-]+`), "remote branch deletion", SeverityHigh},
	{regexp.MustCompile(`(?i)\bgit\s+branch\s+-D\s+(main|master)\b`), "deletion of the default branch", SeverityHigh},
	{regexp.MustCompile(`(?i)\bdd\b[^\n]*\bof=/dev/`), "raw write to a block device", SeverityCritical},
	{regexp.MustCompile(`(?i)\bmkfs\b`), "filesystem format", SeverityCritical},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\|:&\s*\};:`), "fork bomb", SeverityCritical},
	{regexp.MustCompile(`(?i)\bshutdown\b|\breboot\b`), "host shutdown or reboot", SeverityHigh},
}

// Warning patterns. A match allows the operation with an advisory attached.
var warnings = []warnPattern{
	{regexp.MustCompile(`(?i)\bgit\s+push\b[^\n]*\b(origin\s+)?(main|master)\b`), "pushing directly to the default branch"},
	{regexp.MustCompile(`(?i)\bnpm\s+publish\b`), "publishing a package to the npm registry"},
}

// Check evaluates a single command or instruction against the pattern banks.
// It is a pure function: same input, same result.
func Check(command string) Result {
	for _, p := range hardBlocks {
		if p.re.MatchString(command) {
			return Result{Allowed: false, Reason: p.reason, Severity: p.severity}
		}
	}
	for _, p := range warnings {
		if p.re.MatchString(command) {
			return Result{Allowed: true, Warning: p.warning}
		}
	}
	return Result{Allowed: true}
}

// CheckMultiple splits text on newlines and checks each non-comment line.
// The first blocked line wins; warnings accumulate.
func CheckMultiple(text string) Result {
	var warns []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		r := Check(line)
		if !r.Allowed {
			return r
		}
		if r.Warning != "" {
			warns = append(warns, r.Warning)
		}
	}
	return Result{Allowed: true, Warning: strings.Join(warns, "; ")}
}
