package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MessageIncludesWrappedCause(t *testing.T) {
	cause := errors.New("timeout")
	e := Wrap(TransientDependency, "STORE_TIMEOUT", "store call failed", cause)
	assert.Contains(t, e.Error(), "STORE_TIMEOUT")
	assert.Contains(t, e.Error(), "store call failed")
	assert.Contains(t, e.Error(), "timeout")
	assert.ErrorIs(t, e, cause)
}

func TestError_WithoutCauseOmitsTrailingColon(t *testing.T) {
	e := New(Validation, "BAD_EMAIL", "invalid email format")
	assert.Equal(t, "[BAD_EMAIL] invalid email format", e.Error())
}

func TestError_RetryableOnlyForTransientDependency(t *testing.T) {
	assert.True(t, New(TransientDependency, "X", "x").Retryable())
	assert.False(t, New(PermanentDependency, "X", "x").Retryable())
	assert.False(t, New(Validation, "X", "x").Retryable())
}

func TestKindOf_ReturnsEmptyForNonTaxonomyErrors(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain error")))
	assert.Equal(t, NotFound, KindOf(NewNotFound("job", "abc")))
}

func TestNewNotFound_FormatsEntityAndID(t *testing.T) {
	e := NewNotFound("job", "abc-123")
	assert.Contains(t, e.Message, "job")
	assert.Contains(t, e.Message, "abc-123")
	assert.Equal(t, NotFound, e.Kind)
}
