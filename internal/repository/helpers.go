package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/clipzy/clipzy-server/internal/kv"
)

var (
	// ErrRoomNotFound is returned by updates on a room that does not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrConflict is returned when a compare-and-swap loop keeps losing
	// races until its retries run out.
	ErrConflict = errors.New("concurrent update retries exhausted")

	errSwapLost = errors.New("compare-and-swap lost")
)

// Compare-and-swap retry policy.
const (
	casMaxRetries    = 6
	casBaseDelay     = 10 * time.Millisecond
	casJitterPercent = 25
)

// HandleNotFound converts kv.ErrNotFound to a nil result without error.
// This is the common pattern for Find* operations where a missing key is
// not an error condition.
func HandleNotFound[T any](result *T, err error) (*T, error) {
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// withSwapRetry runs attempt until it stops reporting a lost swap. attempt
// returns errSwapLost (unwrapped) when another writer got there first.
func withSwapRetry(ctx context.Context, attempt func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(casMaxRetries,
		retry.WithJitterPercent(casJitterPercent, retry.NewExponential(casBaseDelay)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := attempt(ctx)
		if errors.Is(err, errSwapLost) {
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, errSwapLost) {
		return ErrConflict
	}
	return err
}

func nowMillis(now func() time.Time) int64 {
	return now().UnixMilli()
}
