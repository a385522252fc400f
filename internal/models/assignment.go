package models

import (
	"fmt"
	"strings"
	"time"
)

type DuplicatePolicy int

const (
	DuplicateReject DuplicatePolicy = iota
	DuplicateReuseExisting
	DuplicateForceNew
)

func (p DuplicatePolicy) String() string {
	switch p {
	case DuplicateReject:
		return "reject"
	case DuplicateReuseExisting:
		return "reuse_existing"
	case DuplicateForceNew:
		return "force_new"
	default:
		return fmt.Sprintf("DuplicatePolicy(%d)", int(p))
	}
}

// ParseDuplicatePolicy accepts the wire names and the CamelCase names used by
// operator tooling. An empty value means reject.
func ParseDuplicatePolicy(raw string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "reject":
		return DuplicateReject, nil
	case "reuse_existing", "reuseexisting", "reuse":
		return DuplicateReuseExisting, nil
	case "force_new", "forcenew", "force":
		return DuplicateForceNew, nil
	default:
		return DuplicateReject, fmt.Errorf("unknown duplicate policy %q", raw)
	}
}

type AssignResult struct {
	TokenID             string    `json:"token_id"`
	QueuePrefix         string    `json:"queue_prefix"`
	Position            int       `json:"position"`
	WaitEstimateMinutes int       `json:"wait_estimate_minutes"`
	ETA                 time.Time `json:"eta"`
	Status              string    `json:"status"`
	Resource            int       `json:"resource"`
	Reused              bool      `json:"reused"`
}

type NotifyRequest struct {
	Phone               string `json:"phone"`
	TokenID             string `json:"token_id"`
	Position            int    `json:"position"`
	WaitEstimateMinutes int    `json:"wait_estimate_minutes"`
}

type TokenStatusChanged struct {
	TokenID   string    `json:"token_id"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	ChangedAt time.Time `json:"changed_at"`
}

type QueueStats struct {
	QueuePrefix string         `json:"queue_prefix"`
	Total       int            `json:"total"`
	Active      int            `json:"active"`
	ByStatus    map[string]int `json:"by_status"`
}
