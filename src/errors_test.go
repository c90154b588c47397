package pcopy

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind CopyErrorKind
		want string
	}{
		{"not faster", errNotFaster("/src/file"), NotFaster, "/src/file"},
		{"source not found", errSourceNotFound("/missing"), SourceNotFound, "source path not found: /missing"},
		{"cannot overwrite", errCannotOverwrite("/dst/a.txt"), CannotOverwrite, "destination file already exists: /dst/a.txt"},
		{"directory creation", errDirectoryCreation("/dst/sub", errors.New("not a directory")), DirectoryCreationFailed, "/dst/sub: not a directory"},
		{"other", errOther("/src/x", "input/output error"), Other, "/src/x: input/output error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Contains(t, tt.err.Error(), tt.want)
		})
	}
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("copy: %w", errCannotOverwrite("/dst/a.txt"))
	assert.Equal(t, CannotOverwrite, KindOf(err))

	var ce *CopyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "/dst/a.txt", ce.Dest)

	assert.Zero(t, KindOf(errors.New("plain")))
	assert.Zero(t, KindOf(nil))
}

func TestClassifyIOError(t *testing.T) {
	denied := &fs.PathError{Op: "open", Path: "/src/a", Err: syscall.EACCES}
	err := classifyIOError("/src/a", "/dst/a", denied)
	assert.Equal(t, AccessDenied, KindOf(err))
	assert.Equal(t, "access denied copying /src/a to /dst/a", err.Error())

	err = classifyIOError("/src/a", "", denied)
	assert.Equal(t, "access denied: /src/a", err.Error())

	other := &fs.PathError{Op: "read", Path: "/src/a", Err: syscall.EIO}
	err = classifyIOError("/src/a", "/dst/a", other)
	assert.Equal(t, Other, KindOf(err))
	assert.Contains(t, err.Error(), other.Error())
}

func TestCopyErrorKindString(t *testing.T) {
	assert.Equal(t, "CannotOverwrite", CannotOverwrite.String())
	assert.Equal(t, "CopyErrorKind(42)", CopyErrorKind(42).String())
}
