package queue

import "time"

// MaxBackoffShift bounds the exponent so the multiplication cannot overflow.
const MaxBackoffShift = 30

// uncappedBackoffLimit applies when Max is zero.
const uncappedBackoffLimit = 24 * time.Hour

// Backoff is an exponential retry policy: Base * 2^retryCount, capped at Max.
// The zero value retries immediately.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// NoBackoff makes failed tasks reclaimable immediately.
func NoBackoff() Backoff {
	return Backoff{}
}

// DefaultBackoff is used by clients built without WithBackoff.
func DefaultBackoff() Backoff {
	return Backoff{Base: 5 * time.Second, Max: 5 * time.Minute}
}

// Delay returns how long a task that has already been retried retryCount times waits before its next attempt.
func (b Backoff) Delay(retryCount int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	shift := min(max(retryCount, 0), MaxBackoffShift)
	limit := b.limit()
	if b.Base > limit>>shift {
		return limit
	}
	return b.Base << shift
}

func (b Backoff) limit() time.Duration {
	if b.Max <= 0 {
		return uncappedBackoffLimit
	}
	return b.Max
}

// BaseMillis and LimitMillis feed the SQL form of Delay used by FailTask.
func (b Backoff) BaseMillis() int64 { return max(b.Base, 0).Milliseconds() }

func (b Backoff) LimitMillis() int64 { return b.limit().Milliseconds() }
