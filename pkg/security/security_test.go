package security

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jdziat/queue-workbench/pkg/core"
)

func TestValidateJobName_Valid(t *testing.T) {
	validNames := []string{
		"send-email",
		"processOrder",
		"task_1",
		"1st-run",
		"reports:daily",
		"billing/invoice.v2",
	}

	for _, name := range validNames {
		err := ValidateJobName(name)
		assert.NoError(t, err, "Expected %q to be valid", name)
	}
}

func TestValidateJobName_Invalid(t *testing.T) {
	invalidNames := []string{
		"",                       // empty
		"-task",                  // starts with hyphen
		"task with spaces",       // contains spaces
		"task@email",             // contains special char
		strings.Repeat("a", 300), // too long
	}

	for _, name := range invalidNames {
		err := ValidateJobName(name)
		assert.Error(t, err, "Expected %q to be invalid", name)
		assert.True(t, errors.Is(err, core.ErrInvalidInput))
	}
}

func TestValidateQueueName_Valid(t *testing.T) {
	validNames := []string{
		"default",
		"high-priority",
		"emails_v2",
		"2fa",
	}

	for _, name := range validNames {
		assert.NoError(t, ValidateQueueName(name), "Expected %q to be valid", name)
	}
}

func TestValidateQueueName_Invalid(t *testing.T) {
	assert.ErrorIs(t, ValidateQueueName(""), core.ErrInvalidQueueName)
	assert.ErrorIs(t, ValidateQueueName("a:b"), core.ErrInvalidQueueName)
	assert.ErrorIs(t, ValidateQueueName(strings.Repeat("q", 256)), core.ErrQueueNameTooLong)
}

func TestValidateJobData(t *testing.T) {
	assert.NoError(t, ValidateJobData([]byte(`{"a":1}`)))
	assert.ErrorIs(t, ValidateJobData(make([]byte, MaxJobDataSize+1)), core.ErrJobDataTooLarge)
}

func TestSanitizeErrorMessage(t *testing.T) {
	assert.Equal(t, "", SanitizeErrorMessage(""))
	assert.Equal(t, "bad\tthing\n", SanitizeErrorMessage("bad\x00\tthing\n\x7f"))

	long := strings.Repeat("x", MaxErrorMessageLength+10)
	out := SanitizeErrorMessage(long)
	assert.Equal(t, MaxErrorMessageLength, len(out))
	assert.True(t, strings.HasSuffix(out, "..."))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0, ClampAttempts(-1))
	assert.Equal(t, 5, ClampAttempts(5))
	assert.Equal(t, MaxAttempts, ClampAttempts(1000))

	assert.Equal(t, 20, ClampLimit(0, 20))
	assert.Equal(t, 7, ClampLimit(7, 20))
	assert.Equal(t, MaxPageSize, ClampLimit(50_000, 20))
}
