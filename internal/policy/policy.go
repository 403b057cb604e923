// Package policy sanitizes and screens raw player text before it reaches
// the step pipeline. Screening is heuristic: the first matching pattern
// decides the block reason, and the sanitized text is always returned so
// callers can log what the player actually sent.
package policy

import (
	"regexp"
	"strings"
)

// #region reasons

// Reason is the machine-readable category of a blocked input.
type Reason string

const (
	ReasonPromptInjection Reason = "PROMPT_INJECTION"
	ReasonCodeInjection   Reason = "CODE_INJECTION"
	ReasonSQLInjection    Reason = "SQL_INJECTION"
	ReasonShellAbuse      Reason = "SHELL_ABUSE"
	ReasonJailbreak       Reason = "JAILBREAK"
)

// #endregion reasons

// #region patterns

type patternCheck struct {
	reason  Reason
	pattern *regexp.Regexp
}

// patternChecks runs in order; the first match wins. Order mirrors the
// severity ranking used by the action log.
var patternChecks = []patternCheck{
	{ReasonPromptInjection, regexp.MustCompile(`(?i)(ignore|disregard|forget)\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?)`)},
	{ReasonPromptInjection, regexp.MustCompile(`(?i)\b(system\s+prompt|developer\s+message|you\s+are\s+now\s+(a|an|the)\b)`)},
	{ReasonCodeInjection, regexp.MustCompile(`(?i)(<script\b|javascript:|\beval\s*\(|\bexec\s*\(|__import__|subprocess\.|os\.system)`)},
	{ReasonSQLInjection, regexp.MustCompile(`(?i)('\s*(or|and)\s+'?\d|;\s*(drop|delete|truncate|update|insert)\b|union\s+select\b|--\s*$)`)},
	{ReasonShellAbuse, regexp.MustCompile(`(?i)(\brm\s+-rf\b|\bsudo\b|\bchmod\b|\bcurl\s+[^\s]+\s*\|\s*(ba)?sh\b|\$\(.+\)|` + "`" + `.+` + "`" + `)`)},
	{ReasonJailbreak, regexp.MustCompile(`(?i)(\bDAN\s+mode\b|\bjailbreak\b|pretend\s+you\s+have\s+no\s+(rules|restrictions|filters)|without\s+any\s+(moral|ethical)\s+(limits|restrictions))`)},
}

// #endregion patterns

// #region result

// Result is the outcome of sanitizing one raw input.
// Text is empty only when the input normalized to nothing.
type Result struct {
	Text    string
	Blocked bool
	Reason  Reason
}

// #endregion result

// #region sanitize

var whitespaceRun = regexp.MustCompile(`\s+`)

// Sanitize whitespace-normalizes and truncates raw player text, then runs
// the ordered pattern checks. Blocked inputs still carry the sanitized
// text for audit.
func Sanitize(raw string, maxChars int) Result {
	text := strings.TrimSpace(whitespaceRun.ReplaceAllString(raw, " "))
	if text == "" {
		return Result{}
	}

	if maxChars > 0 {
		runes := []rune(text)
		if len(runes) > maxChars {
			text = strings.TrimRight(string(runes[:maxChars]), " ")
		}
	}

	for _, check := range patternChecks {
		if check.pattern.MatchString(text) {
			return Result{Text: text, Blocked: true, Reason: check.reason}
		}
	}
	return Result{Text: text}
}

// #endregion sanitize
