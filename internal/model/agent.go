package model

import (
	"strconv"
	"time"
)

// Agent is a bookable service provider.
type Agent struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	UserID    int64     `json:"user_id"`
	ChatID    int64     `json:"chat_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentRoom is the realtime channel that carries live-queue events of an agent.
func AgentRoom(agentID int64) string {
	return "agent:" + strconv.FormatInt(agentID, 10)
}
