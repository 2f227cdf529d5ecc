package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionExpireTask(t *testing.T) {
	payload := SessionExpirePayload{
		SessionID:   "s-1",
		UserID:      "u-1",
		ScheduledAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}

	task, err := NewSessionExpireTask(payload)
	require.NoError(t, err)
	assert.Equal(t, TypeSessionExpire, task.Type())

	parsed, err := ParseSessionExpirePayload(task)
	require.NoError(t, err)
	assert.Equal(t, payload, parsed)
}

func TestSessionExpireTaskRequiresIDs(t *testing.T) {
	_, err := NewSessionExpireTask(SessionExpirePayload{UserID: "u-1"})
	assert.Error(t, err)
}
