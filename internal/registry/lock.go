package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const (
	lockFilename   = ".registry.lock"
	lockRetryDelay = 50 * time.Millisecond
)

// ErrLockTimeout indicates the registry lock could not be acquired in time.
var ErrLockTimeout = errors.New("registry lock acquisition timed out")

// acquireLock takes the exclusive inter-process lock guarding the registry
// pair in dir. The returned func releases it.
func acquireLock(ctx context.Context, dir string, timeout time.Duration) (func(), error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFilename))

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locked, err := lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrLockTimeout
		}
		return nil, fmt.Errorf("failed to lock registry: %w", err)
	}
	if !locked {
		return nil, ErrLockTimeout
	}

	return func() { _ = lock.Unlock() }, nil
}
