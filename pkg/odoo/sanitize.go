package odoo

import (
	"regexp"
	"strings"
)

// maxMessageLen bounds sanitized server messages before they reach logs or
// API responses.
const maxMessageLen = 500

var (
	urlCredsRe = regexp.MustCompile(`(\w+://)[^\s/:@]+:[^\s/@]+@`)
	secretKVRe = regexp.MustCompile(`(?i)\b(password|passwd|pwd|api[_-]?key|apikey|token|secret|authorization)\b(["']?\s*[=:]\s*)\S+`)
	pyFrameRe  = regexp.MustCompile(`\s*File "[^"]*", line \d+.*`)
)

// SanitizeMessage strips server internals from an error message so it can be
// returned to callers: tracebacks are reduced to their final line, embedded
// credentials are redacted, and the result is truncated.
func SanitizeMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return msg
	}

	if idx := strings.Index(msg, "Traceback (most recent call last)"); idx >= 0 {
		head := strings.TrimSpace(msg[:idx])
		tail := lastLine(msg[idx:])
		switch {
		case head != "" && tail != "":
			msg = head + " " + tail
		case tail != "":
			msg = tail
		default:
			msg = head
		}
	}
	msg = pyFrameRe.ReplaceAllString(msg, "")

	msg = urlCredsRe.ReplaceAllString(msg, "$1***@")
	msg = secretKVRe.ReplaceAllString(msg, "$1$2***")

	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen] + "..."
	}
	return msg
}

// lastLine returns the last non-empty line of a block, skipping python frame
// lines so a traceback collapses to its exception.
func lastLine(block string) string {
	lines := strings.Split(block, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if l == "" || pyFrameRe.MatchString(lines[i]) {
			continue
		}
		return l
	}
	return ""
}
