package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/taskmill/taskmill/pkg/core"
)

// Limits enforced at the submission and registration boundary.
const (
	// MaxTaskTypeLength is the maximum length for task type strings.
	MaxTaskTypeLength = 255

	// MaxPayloadSize is the maximum size in bytes for task payloads (1MB).
	MaxPayloadSize = 1 << 20

	// MaxRetries is the hard limit for retry attempts.
	MaxRetries = 100

	// MaxConcurrency is the hard limit for per-worker concurrency.
	MaxConcurrency = 1000

	// MaxErrorMessageLength is the maximum length for stored error messages.
	MaxErrorMessageLength = 4096
)

// validTaskType matches dot-segmented names: alphanumeric, hyphens,
// underscores, and dots, starting with a letter.
var validTaskType = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// ValidateTaskType validates a task type string.
func ValidateTaskType(name string) error {
	if name == "" {
		return core.ErrMissingType
	}
	if len(name) > MaxTaskTypeLength {
		return core.ErrTaskTypeTooLong
	}
	if !validTaskType.MatchString(name) {
		return core.ErrInvalidTaskType
	}
	return nil
}

// ValidatePayload enforces the payload size limit.
func ValidatePayload(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return core.ErrPayloadTooLarge
	}
	return nil
}

// SanitizeErrorMessage truncates and sanitizes error messages for storage.
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	// Strip null bytes and control characters (except whitespace).
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxErrorMessageLength {
		runes := []rune(result)
		result = string(runes[:MaxErrorMessageLength-3]) + "..."
	}

	return result
}

// ClampRetries ensures a retry count is within limits.
func ClampRetries(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxRetries {
		return MaxRetries
	}
	return n
}

// ClampConcurrency ensures worker concurrency is within limits.
func ClampConcurrency(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxConcurrency {
		return MaxConcurrency
	}
	return n
}
