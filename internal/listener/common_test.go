package listener

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCleanupProcessedRefs(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewStatusListener(StatusListenerConfig{
		CleanupInterval: time.Hour,
		Now:             func() time.Time { return now },
	})

	l.markProcessed("old")
	now = now.Add(90 * time.Minute)
	l.markProcessed("fresh")

	l.cleanupProcessedRefs()
	assert.False(t, l.isProcessed("old"))
	assert.True(t, l.isProcessed("fresh"))
}

func TestMarkProcessedIsBounded(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewStatusListener(StatusListenerConfig{
		CleanupInterval: time.Hour,
		Now:             func() time.Time { return now },
	})

	for i := 0; i < maxProcessedRefs+5; i++ {
		l.markProcessed(fmt.Sprintf("ref-%d", i))
	}
	assert.Equal(t, maxProcessedRefs, l.trackedRefs())

	now = now.Add(2 * time.Hour)
	l.markProcessed("late")
	assert.Equal(t, 1, l.trackedRefs())
	assert.True(t, l.isProcessed("late"))
}
