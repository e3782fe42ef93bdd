package moderation

import (
	"fmt"
	"strings"
)

type Severity string

const (
	SeverityNone    Severity = "none"
	SeverityLow     Severity = "low"
	SeverityMedium  Severity = "medium"
	SeverityHigh    Severity = "high"
	SeverityUnknown Severity = "unknown"
)

// IssueModerationError marks a verdict produced because the classifier
// could not be reached or understood.
const IssueModerationError = "moderation_error"

// Verdict is the outcome of classifying one piece of text.
type Verdict struct {
	IsAppropriate bool     `json:"is_appropriate"`
	Confidence    float64  `json:"confidence"`
	Issues        []string `json:"issues"`
	Severity      Severity `json:"severity"`
}

// Classification is what a remote classifier reports before normalization.
type Classification struct {
	Flagged    bool
	Confidence float64
	Issues     []string
	Severity   Severity
}

// Unconfigured is returned when no classifier is wired in.
func Unconfigured() Verdict {
	return Verdict{IsAppropriate: true, Confidence: 1.0, Issues: []string{}, Severity: SeverityNone}
}

// Fallback is returned when a configured classifier fails. It allows the write.
func Fallback() Verdict {
	return Verdict{IsAppropriate: true, Confidence: 0.5, Issues: []string{IssueModerationError}, Severity: SeverityUnknown}
}

func (c Classification) Verdict() Verdict {
	issues := c.Issues
	if issues == nil {
		issues = []string{}
	}
	return Verdict{
		IsAppropriate: !c.Flagged,
		Confidence:    clampConfidence(c.Confidence),
		Issues:        issues,
		Severity:      c.Severity,
	}
}

// ParseSeverity maps a remote severity label onto the known set. Empty means
// none; anything unrecognised is unknown.
func ParseSeverity(s string) Severity {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case "":
		return SeverityNone
	case SeverityNone, SeverityLow, SeverityMedium, SeverityHigh, SeverityUnknown:
		return sev
	default:
		return SeverityUnknown
	}
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ParseError wraps a classifier response that could not be decoded. Raw holds
// an excerpt of the body for diagnosis.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse moderation response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func excerpt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
