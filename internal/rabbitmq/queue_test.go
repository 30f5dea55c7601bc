package rabbitmq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitTier(t *testing.T) {
	tests := []struct {
		delay time.Duration
		want  time.Duration
	}{
		{200 * time.Millisecond, time.Second},
		{time.Second, time.Second},
		{5 * time.Second, 5 * time.Second},
		{16 * time.Second, 15 * time.Second},
		{59 * time.Second, 15 * time.Second},
		{10 * time.Minute, 5 * time.Minute},
		{48 * time.Hour, 2 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.delay.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, waitTier(tt.delay))
		})
	}
}

func TestWaitQueueNames(t *testing.T) {
	q := &JobQueue{queue: "chat.jobs"}
	assert.Equal(t, "chat.jobs.wait.5000", q.waitQueue(waitTier(5*time.Second)))
	assert.Equal(t, "chat.jobs.dead", q.deadQueue())

	seen := map[string]bool{}
	for _, tier := range waitTiers {
		name := q.waitQueue(tier)
		assert.False(t, seen[name], name)
		seen[name] = true
	}
}
