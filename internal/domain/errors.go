package domain

import (
	"errors"
	"strings"
)

var (
	// ErrSourceQuery: the request source was unreachable or rejected the query.
	ErrSourceQuery = errors.New("source query")
	// ErrStoreRead: the group store could not be read.
	ErrStoreRead = errors.New("group store read")
	// ErrStoreWrite: a group store write or pipeline failed.
	ErrStoreWrite = errors.New("group store write")
	// ErrDispatch: a job could not be enqueued.
	ErrDispatch = errors.New("dispatch")
	// ErrHandler: a queue consumer failed to process a job.
	ErrHandler = errors.New("job handler")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Tag joins err with a taxonomy sentinel so callers can use errors.Is.
func Tag(sentinel error, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return errors.Join(sentinel, err)
}

func InvalidArgument(msg string) error {
	return errors.Join(ErrInvalidArgument, errors.New(strings.TrimSpace(msg)))
}
