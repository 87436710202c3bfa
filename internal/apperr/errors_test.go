package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTypeThroughWrapping(t *testing.T) {
	base := NewProcessingError("too many spots", nil)
	wrapped := fmt.Errorf("tile 0/0: %w", base)

	assert.True(t, IsType(wrapped, ErrorTypeProcessing))
	assert.False(t, IsType(wrapped, ErrorTypeDecode))
	assert.Equal(t, ErrorTypeProcessing, TypeOf(wrapped))
	assert.Equal(t, ErrorType(""), TypeOf(errors.New("plain")))
}

func TestCancelledSentinel(t *testing.T) {
	err := fmt.Errorf("stopping: %w", ErrCancelled)
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.False(t, errors.Is(NewDecodeError("x", nil), ErrCancelled))
}

func TestErrorMessage(t *testing.T) {
	cause := errors.New("short read")
	err := NewDecodeError("cannot open image", cause).WithImage("a.tif", "1/2")
	assert.Equal(t, "decode: cannot open image [image=a.tif tile=1/2] (caused by: short read)", err.Error())
	assert.ErrorIs(t, err, cause)
}
