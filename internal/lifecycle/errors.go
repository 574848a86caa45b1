package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectivity means the host could not be woken, or the container
	// engine could not be reached or used.
	ErrConnectivity = errors.New("host not reachable")
	// ErrNotFound means the named container does not exist on the engine.
	ErrNotFound = errors.New("container not found")
)

// CapacityError rejects a start because the running cap is reached.
type CapacityError struct {
	Running int
	Limit   int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%d allow-listed containers running, limit is %d", e.Running, e.Limit)
}

// SuspendError reports that every suspend attempt failed.
type SuspendError struct {
	Attempts int
	Last     error
}

func (e *SuspendError) Error() string {
	return fmt.Sprintf("suspend failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *SuspendError) Unwrap() error { return e.Last }

// backendFault normalizes a session error so that callers only ever see
// ErrNotFound or ErrConnectivity. The original error stays in the chain.
func backendFault(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConnectivity) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrConnectivity, err)
}
