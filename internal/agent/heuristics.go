package agent

import (
	"regexp"
	"strings"
)

// These patterns gate the tool-arming heuristic: rather than pass the full
// tool catalog on every provider call, the loop only arms tools when the
// user's content carries an actionable cue. Styled after policy.go's
// elevatedPatterns: a small set of compiled regexes checked in sequence.
var (
	imperativeVerbPattern = regexp.MustCompile(`(?i)\b(run|execute|install|search|fetch|download|create|delete|remove|write|edit|read|list|check|build|deploy|clone|update|open|start|stop|find|look up)\b`)
	urlPattern            = regexp.MustCompile(`https?://\S+`)
	shellTokenPattern     = regexp.MustCompile("(\\$\\(|`[^`]+`|\\bsudo\\b|^\\s*\\./|[|&;])")
	skillKeywordPattern   = regexp.MustCompile(`(?i)\b(skill|plugin|package|tool)\b`)
)

// needsTools reports whether content carries an actionable cue: an
// imperative verb, a URL, a shell-like token, or a skill/install/search
// keyword. The loop calls the provider without a tool list when this is
// false, saving the round-trip cost of a tool catalog the model won't use.
func needsTools(content string) bool {
	if content == "" {
		return false
	}
	return imperativeVerbPattern.MatchString(content) ||
		urlPattern.MatchString(content) ||
		shellTokenPattern.MatchString(content) ||
		skillKeywordPattern.MatchString(content)
}

// commitmentPattern matches a first-person commitment marker: the assistant
// stating it is about to act, rather than reporting that it already has.
var commitmentPattern = regexp.MustCompile(`(?i)\bI'll\b[^.!?]*\bnow\b|\bI will\b|\blet me\b`)

// isCommitment reports whether text is a first-person commitment that is
// not itself a question, the trigger condition for an autonomous follow-up.
func isCommitment(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.HasSuffix(trimmed, "?") {
		return false
	}
	return commitmentPattern.MatchString(trimmed)
}
