package guard

import "regexp"

// Detection is a destructive command found in free text. Detections are
// advisory: they seed approval prompts rather than refusing outright.
type Detection struct {
	Action  string // short label, e.g. "git push"
	Command string // the matched text
}

type approvalPattern struct {
	re     *regexp.Regexp
	action string
}

// Commands that warrant user confirmation when an agent declares it ran them.
var approvalWarrants = []approvalPattern{
	{regexp.MustCompile(`(?i)\bgit\s+push\b[^\n]*`), "git push"},
	{regexp.MustCompile(`(?i)\bgit\s+branch\s+-D\s+[\w./-]+`), "branch deletion"},
	{regexp.MustCompile(`(?i)\bgit\s+checkout\s+--\s+\.`), "discard working changes"},
	{regexp.MustCompile(`(?i)\bgit\s+stash\s+(drop|clear)\b`), "stash deletion"},
	{regexp.MustCompile(`(?i)\brm\s+-rf?\s+[\w./-]+`), "recursive delete"},
	{regexp.MustCompile(`(?i)\bgh\s+pr\s+merge\b[^\n]*`), "pull request merge"},
}

// DetectSensitive scans free text for destructive commands the agent may
// claim it ran. Hard-block matches are included too: if the agent declares a
// blocked operation, the user gets to hear about it. Each action is reported
// at most once.
func DetectSensitive(text string) []Detection {
	var out []Detection
	seen := make(map[string]bool)

	for _, p := range hardBlocks {
		if m := p.re.FindString(text); m != "" && !seen[p.reason] {
			seen[p.reason] = true
			out = append(out, Detection{Action: p.reason, Command: m})
		}
	}
	for _, p := range approvalWarrants {
		if m := p.re.FindString(text); m != "" && !seen[p.action] {
			seen[p.action] = true
			out = append(out, Detection{Action: p.action, Command: m})
		}
	}
	return out
}
