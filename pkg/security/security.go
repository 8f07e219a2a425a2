// Package security provides validation, sanitization, and limits for the workbench.
package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/queue-workbench/pkg/core"
)

// Security limits and configuration
const (
	// MaxJobNameLength is the maximum length for job names
	MaxJobNameLength = 255

	// MaxJobDataSize is the maximum size in bytes for an enqueued payload (1MB)
	MaxJobDataSize = 1 << 20

	// MaxAttempts is the hard limit for attempts on a test job
	MaxAttempts = 100

	// MaxErrorMessageLength is the maximum length for error messages returned to clients
	MaxErrorMessageLength = 4096

	// MaxQueueNameLength is the maximum length for queue names
	MaxQueueNameLength = 255

	// MaxPageSize caps list and search limits
	MaxPageSize = 1000

	// MaxBulkSize is re-exported by the root package; pkg/bulk does not enforce it
	MaxBulkSize = 1000
)

// validQueueName matches alphanumeric, hyphens, underscores, and dots
var validQueueName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.]*$`)

// validJobName additionally allows colons and slashes used for namespacing
var validJobName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_\-\.:/]*$`)

// ValidateQueueName validates a queue name
func ValidateQueueName(name string) error {
	if name == "" {
		return core.ErrInvalidQueueName
	}
	if len(name) > MaxQueueNameLength {
		return core.ErrQueueNameTooLong
	}
	if !validQueueName.MatchString(name) {
		return core.ErrInvalidQueueName
	}
	return nil
}

// ValidateJobName validates a job name
func ValidateJobName(name string) error {
	if name == "" {
		return core.ErrInvalidJobName
	}
	if len(name) > MaxJobNameLength {
		return core.ErrJobNameTooLong
	}
	if !validJobName.MatchString(name) {
		return core.ErrInvalidJobName
	}
	return nil
}

// ValidateJobData checks a payload's size
func ValidateJobData(data []byte) error {
	if len(data) > MaxJobDataSize {
		return core.ErrJobDataTooLarge
	}
	return nil
}

// SanitizeErrorMessage truncates and strips control characters from error messages
func SanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

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

// ClampAttempts ensures an attempts count is within limits. Zero means backend default.
func ClampAttempts(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxAttempts {
		return MaxAttempts
	}
	return n
}

// ClampLimit bounds a page size to [1, MaxPageSize], using def for non-positive input
func ClampLimit(n, def int) int {
	if n <= 0 {
		return def
	}
	if n > MaxPageSize {
		return MaxPageSize
	}
	return n
}
