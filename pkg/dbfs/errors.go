package dbfs

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	// ErrNotFound reports a missing anchor or ancestor.
	ErrNotFound = fmt.Errorf("dbfs: %w", fs.ErrNotExist)
	// ErrExist reports a collision with an existing entry.
	ErrExist = fmt.Errorf("dbfs: %w", fs.ErrExist)
	// ErrNotDirectory reports an existing entry that is not a directory where one is required.
	ErrNotDirectory = fmt.Errorf("not a directory: %w", ErrExist)
	// ErrLogic reports caller misuse: malformed paths or forbidden operations.
	ErrLogic = errors.New("dbfs: logic error")
)

// PathError records the operation, anchor and path that failed.
type PathError struct {
	Op     string
	Anchor NodeID
	Path   string
	Err    error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s:%q: %v", e.Op, e.Anchor, e.Path, e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}

func logicf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrLogic, fmt.Sprintf(format, args...))
}
