// Package repodetect extracts a normalized repository key from free-form
// instruction text.
package repodetect

import (
	"regexp"
	"strings"
)

// DefaultKey is the sentinel repo key for instructions that name no repo.
const DefaultKey = "__default__"

// Confidence grades how sure the detector is about its match.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Detection is the result of scanning one instruction.
type Detection struct {
	RepoKey    string
	Org        string
	Repo       string
	IsNewRepo  bool
	Confidence Confidence
}

// Patterns are tried in order, most specific first. The first match wins.
var (
	reNewRepo    = regexp.MustCompile(`(?i)\bcreate\s+(?:a\s+)?new\s+repo(?:sitory)?\s+(?:called\s+|named\s+)?([\w.-]+)`)
	reGitHubURL  = regexp.MustCompile(`(?i)github\.com[:/]([\w.-]+)/([\w.-]+?)(?:\.git)?(?:[/\s]|$)`)
	reOrgSlash   = regexp.MustCompile(`(?i)\b(?:in|on|to|for|at|of)\s+([\w.-]+)/([\w.-]+)`)
	reGoToOrg    = regexp.MustCompile(`(?i)\bgo\s+to\s+org\s+([\w.-]+)[,\s]+\s*repo\s+([\w.-]+)`)
	reSwitchRepo = regexp.MustCompile(`(?i)\bswitch\s+to\s+(?:the\s+)?(?:repo\s+)?([\w.-]+)`)
	reTheXRepo   = regexp.MustCompile(`(?i)\bthe\s+([\w.-]+)\s+repo\b`)
	reCloneCmd   = regexp.MustCompile(`(?i)\b(?:git\s+clone|gh\s+repo\s+clone)\s+(?:https?://github\.com/|git@github\.com:)?([\w.-]+)/([\w.-]+?)(?:\.git)?(?:\s|$)`)
	reSameRepo   = regexp.MustCompile(`(?i)\bsame\s+repo\b`)
	reBareSlash  = regexp.MustCompile(`^([\w.-]+)/([\w.-]+)$`)
)

// Detect scans the instruction and returns the repo key to partition on.
// Detection never fails: a miss falls through to the default key with low
// confidence. Detect is idempotent on its own output string form.
func Detect(instruction string) Detection {
	text := strings.TrimSpace(instruction)
	if text == "" {
		return Detection{RepoKey: DefaultKey, Confidence: ConfidenceLow}
	}

	// Exact org/repo form first so Detect(d.RepoKey) round-trips.
	if m := reBareSlash.FindStringSubmatch(text); m != nil {
		return fromOrgRepo(m[1], m[2], false, ConfidenceHigh)
	}
	if m := reNewRepo.FindStringSubmatch(text); m != nil {
		return fromRepo(m[1], true, ConfidenceHigh)
	}
	if m := reGitHubURL.FindStringSubmatch(text); m != nil {
		return fromOrgRepo(m[1], m[2], false, ConfidenceHigh)
	}
	if m := reGoToOrg.FindStringSubmatch(text); m != nil {
		return fromOrgRepo(m[1], m[2], false, ConfidenceHigh)
	}
	if m := reCloneCmd.FindStringSubmatch(text); m != nil {
		return fromOrgRepo(m[1], m[2], false, ConfidenceHigh)
	}
	if m := reOrgSlash.FindStringSubmatch(text); m != nil {
		return fromOrgRepo(m[1], m[2], false, ConfidenceHigh)
	}
	if reSameRepo.MatchString(text) {
		return Detection{RepoKey: DefaultKey, Confidence: ConfidenceHigh}
	}
	if m := reSwitchRepo.FindStringSubmatch(text); m != nil {
		return fromRepo(m[1], false, ConfidenceMedium)
	}
	if m := reTheXRepo.FindStringSubmatch(text); m != nil {
		return fromRepo(m[1], false, ConfidenceMedium)
	}

	return Detection{RepoKey: DefaultKey, Confidence: ConfidenceLow}
}

// Normalize lowercases, trims whitespace and strips any trailing slash.
func Normalize(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = strings.TrimSuffix(key, "/")
	if key == "" {
		return DefaultKey
	}
	return key
}

func fromOrgRepo(org, repo string, isNew bool, conf Confidence) Detection {
	org = Normalize(org)
	repo = Normalize(repo)
	return Detection{
		RepoKey:    org + "/" + repo,
		Org:        org,
		Repo:       repo,
		IsNewRepo:  isNew,
		Confidence: conf,
	}
}

func fromRepo(repo string, isNew bool, conf Confidence) Detection {
	repo = Normalize(repo)
	return Detection{
		RepoKey:    repo,
		Repo:       repo,
		IsNewRepo:  isNew,
		Confidence: conf,
	}
}
