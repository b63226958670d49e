package querystate

import (
	"errors"
	"fmt"
)

var (
	// ErrContainerRequired is returned by Connect when no state container is given.
	ErrContainerRequired = errors.New("querystate: state container is required")
	// ErrChangeStreamRequired is returned by Connect when the services carry no change stream.
	ErrChangeStreamRequired = errors.New("querystate: change stream is required")
	// ErrServiceRequired is returned by Connect when a key is synced but its service is missing.
	ErrServiceRequired = errors.New("querystate: service is required for synced key")
)

// Direction names a sync pass.
type Direction string

const (
	// DirectionInitial is the reconciliation pass run on connect.
	DirectionInitial Direction = "initial"
	// DirectionForward copies service values into the container.
	DirectionForward Direction = "forward"
	// DirectionReverse copies container values into the services.
	DirectionReverse Direction = "reverse"
)

// SyncError reports a failed write during a sync pass. Key is empty when the
// failing write was the container Set.
type SyncError struct {
	Direction Direction
	Key       string
	Err       error
}

func (e *SyncError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Key == "" {
		return fmt.Sprintf("querystate: %s sync: %v", e.Direction, e.Err)
	}
	return fmt.Sprintf("querystate: %s sync key=%s: %v", e.Direction, e.Key, e.Err)
}

func (e *SyncError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func wrapSyncError(direction Direction, key string, err error) error {
	if err == nil {
		return nil
	}
	var syncErr *SyncError
	if errors.As(err, &syncErr) && syncErr.Direction == direction {
		return err
	}
	return &SyncError{Direction: direction, Key: key, Err: err}
}
