package status

import (
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	assert.Equal(t, OK, CodeOf(nil))
	assert.Equal(t, Unknown, CodeOf(errors.New("plain")))

	err := Errorf(SizeMismatch, "got %d bytes, wanted %d", 3, 16)
	assert.Equal(t, SizeMismatch, CodeOf(err))
	assert.True(t, Is(err, SizeMismatch))
	assert.Contains(t, err.Error(), "SizeMismatch: got 3 bytes, wanted 16")

	// Wrapping with messages keeps the code.
	wrapped := errors.WithMessagef(err, "allocating %q", "lhs")
	assert.Equal(t, SizeMismatch, CodeOf(wrapped))
	wrapped = fmt.Errorf("outer: %w", wrapped)
	assert.Equal(t, SizeMismatch, CodeOf(wrapped))
}

func TestWrapf(t *testing.T) {
	require.NoError(t, Wrapf(nil, ModuleLoadFailure, "nothing"))

	err := Wrapf(os.ErrNotExist, ModuleLoadFailure, "reading module %q", "x.hrtm")
	assert.Equal(t, ModuleLoadFailure, CodeOf(err))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	// The outermost code wins.
	err = Wrapf(Errorf(DeviceUnavailable, "no plugin"), SessionCreateFailure, "creating session")
	assert.Equal(t, SessionCreateFailure, CodeOf(err))

	// "%+v" prints the stack trace.
	full := fmt.Sprintf("%+v", err)
	assert.True(t, strings.Contains(full, "status_test.go"), "expected stack trace, got %s", full)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, OK.ExitCode())
	assert.NotEqual(t, 0, InvocationFailure.ExitCode())
	assert.Equal(t, "OutputQueueEmpty", OutputQueueEmpty.String())
	assert.Equal(t, "Code(99)", Code(99).String())
}
