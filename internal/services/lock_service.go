package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/yoockh/yoobatch/internal/kvstore"
	"github.com/yoockh/yoobatch/internal/repositories/coord"
	"github.com/yoockh/yoobatch/internal/utils"
)

const defaultLockPoll = 100 * time.Millisecond

// LockService hands out per-user timed locks backed by the coordination
// store. It is independent of the scheduler's own markers.
type LockService struct {
	store kvstore.Store
	keys  coord.Keys
	poll  time.Duration
}

func NewLockService(store kvstore.Store, keys coord.Keys) *LockService {
	return &LockService{store: store, keys: keys, poll: defaultLockPoll}
}

// Lock is a held lock. Release it when done; otherwise it expires on its own.
type Lock struct {
	store kvstore.Store
	key   string
	token string
}

func (l *Lock) Key() string { return l.key }

// Acquire tries to take lock:<user> for timeout. With blocking set it polls
// until blockingTimeout elapses (0 waits until ctx ends). Not getting the lock
// is reported as (false, nil, nil); store failures come back as errors.
func (s *LockService) Acquire(ctx context.Context, userID string, timeout time.Duration, blocking bool, blockingTimeout time.Duration) (bool, *Lock, error) {
	const op = "LockService.Acquire"

	if userID == "" || timeout <= 0 {
		return false, nil, utils.E(utils.CodeInvalidArgument, op, "user_id and a positive timeout are required", nil)
	}

	key := s.keys.Lock(userID)
	token := uuid.NewString()

	var deadline time.Time
	if blocking && blockingTimeout > 0 {
		deadline = time.Now().Add(blockingTimeout)
	}

	for {
		ok, err := s.store.SetNX(ctx, key, token, timeout)
		if err != nil {
			return false, nil, utils.Wrap(op, "failed to acquire lock", err)
		}
		if ok {
			return true, &Lock{store: s.store, key: key, token: token}, nil
		}
		if !blocking {
			return false, nil, nil
		}

		wait := s.poll
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return false, nil, nil
			}
			if left < wait {
				wait = left
			}
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return false, nil, utils.E(utils.CodeTimeout, op, "gave up waiting for lock", ctx.Err())
		case <-t.C:
		}
	}
}

// Release frees the lock if this holder still owns it.
func (l *Lock) Release(ctx context.Context) error {
	const op = "Lock.Release"

	ok, err := l.store.CompareAndDelete(ctx, l.key, l.token)
	if err != nil {
		return utils.Wrap(op, "failed to release lock", err)
	}
	if !ok {
		return utils.E(utils.CodeLockFailed, op, "lock expired before release", nil)
	}
	return nil
}
