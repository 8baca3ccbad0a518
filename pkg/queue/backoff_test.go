package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dsa110/taskq/pkg/queue"
)

func TestBackoff_Delay(t *testing.T) {
	t.Parallel()

	b := queue.Backoff{Base: 5 * time.Second, Max: time.Minute}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{-1, 5 * time.Second},
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{3, 40 * time.Second},
		{4, time.Minute},
		{100, time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.retry), "retry %d", tt.retry)
	}

	assert.Zero(t, queue.NoBackoff().Delay(3))
	assert.Equal(t, 24*time.Hour, queue.Backoff{Base: time.Hour}.Delay(30), "uncapped policy still has a ceiling")
	assert.Equal(t, int64(5000), b.BaseMillis())
	assert.Equal(t, int64(60000), b.LimitMillis())
	assert.Equal(t, int64(24*time.Hour/time.Millisecond), queue.NoBackoff().LimitMillis())
}
