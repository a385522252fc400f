package models

import "time"

type Token struct {
	TokenID             string    `json:"token_id"`
	QueuePrefix         string    `json:"queue_prefix"`
	Phone               string    `json:"phone"`
	Resource            int       `json:"resource"`
	WaitEstimateMinutes int       `json:"wait_estimate_minutes"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"created_at"`
	ETA                 time.Time `json:"eta"`
	RequestID           string    `json:"request_id,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusUpcoming  = "upcoming"
	StatusServing   = "serving"
	StatusDelayed   = "delayed"
	StatusCompleted = "completed"
	StatusNoShow    = "noshow"
)

var Statuses = []string{
	StatusWaiting,
	StatusUpcoming,
	StatusServing,
	StatusDelayed,
	StatusCompleted,
	StatusNoShow,
}

func ValidStatus(status string) bool {
	for _, s := range Statuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsActive reports whether a token in this status still holds the customer's
// place: at most one such token per phone.
func IsActive(status string) bool {
	return status == StatusWaiting || status == StatusUpcoming || status == StatusServing
}

func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusNoShow
}
