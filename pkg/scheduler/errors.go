package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransportClosed is reported for jobs that did not complete before the
	// scheduler was shut down.
	ErrTransportClosed = errors.New("transport closed")
	ErrDuplicateSource = errors.New("duplicate source")
	ErrUnknownSource   = errors.New("unknown source")
	ErrInvalidSource   = errors.New("invalid source")
)

// AggregateError collects the schedule checks that failed during one tick.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, err := range e.Errors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("%d schedule checks failed: %s", len(e.Errors), strings.Join(msgs, "; "))
}

func (e *AggregateError) Unwrap() []error {
	return e.Errors
}
