package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeSessionExpire = "session:expire"

type SessionExpirePayload struct {
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

func NewSessionExpireTask(payload SessionExpirePayload) (*asynq.Task, error) {
	if payload.SessionID == "" || payload.UserID == "" {
		return nil, fmt.Errorf("session expire payload requires session_id and user_id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal session expire payload: %w", err)
	}
	return asynq.NewTask(TypeSessionExpire, body), nil
}

func ParseSessionExpirePayload(task *asynq.Task) (SessionExpirePayload, error) {
	var payload SessionExpirePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return SessionExpirePayload{}, fmt.Errorf("unmarshal session expire payload: %w", err)
	}
	return payload, nil
}
