package pcopy

import (
	"errors"
	"fmt"
	"io/fs"
)

type CopyErrorKind int

const (
	// NotFaster means the source is a single file; a parallel copy gains nothing.
	NotFaster CopyErrorKind = iota + 1
	SourceNotFound
	CannotOverwrite
	DirectoryCreationFailed
	AccessDenied
	Other
)

func (k CopyErrorKind) String() string {
	switch k {
	case NotFaster:
		return "NotFaster"
	case SourceNotFound:
		return "SourceNotFound"
	case CannotOverwrite:
		return "CannotOverwrite"
	case DirectoryCreationFailed:
		return "DirectoryCreationFailed"
	case AccessDenied:
		return "AccessDenied"
	case Other:
		return "Other"
	default:
		return fmt.Sprintf("CopyErrorKind(%d)", int(k))
	}
}

// CopyError is a fatal condition. Any CopyError ends the whole run.
type CopyError struct {
	Kind CopyErrorKind
	Path string
	Dest string
	Msg  string
}

func (e *CopyError) Error() string {
	switch e.Kind {
	case NotFaster:
		return fmt.Sprintf("%s is a single file, this isn't any faster than a plain copy", e.Path)
	case SourceNotFound:
		return fmt.Sprintf("source path not found: %s", e.Path)
	case CannotOverwrite:
		return fmt.Sprintf("destination file already exists: %s", e.Dest)
	case DirectoryCreationFailed:
		return fmt.Sprintf("could not create destination directory %s: %s", e.Dest, e.Msg)
	case AccessDenied:
		if e.Dest == "" {
			return fmt.Sprintf("access denied: %s", e.Path)
		}
		return fmt.Sprintf("access denied copying %s to %s", e.Path, e.Dest)
	default:
		if e.Path == "" {
			return e.Msg
		}
		return fmt.Sprintf("%s: %s", e.Path, e.Msg)
	}
}

// KindOf returns the kind of the first CopyError in err's chain, or 0.
func KindOf(err error) CopyErrorKind {
	var ce *CopyError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

func errNotFaster(src string) error {
	return &CopyError{Kind: NotFaster, Path: src}
}

func errSourceNotFound(src string) error {
	return &CopyError{Kind: SourceNotFound, Path: src}
}

func errCannotOverwrite(dst string) error {
	return &CopyError{Kind: CannotOverwrite, Dest: dst}
}

func errDirectoryCreation(dst string, err error) error {
	return &CopyError{Kind: DirectoryCreationFailed, Dest: dst, Msg: err.Error()}
}

func errOther(path, msg string) error {
	return &CopyError{Kind: Other, Path: path, Msg: msg}
}

// classifyIOError turns an I/O failure on src (and dst, if any) into a
// CopyError, keeping the verbatim error text for anything not a permission
// failure.
func classifyIOError(src, dst string, err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return &CopyError{Kind: AccessDenied, Path: src, Dest: dst}
	}
	return errOther(src, err.Error())
}
