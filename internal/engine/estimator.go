package engine

import "qms/token-service/internal/models"

const DefaultServiceMinutes = 5

type Estimate struct {
	Position            int
	WaitEstimateMinutes int
	Status              string
}

// EstimatePosition places a new token behind activeCount active tokens. Only
// the head of an empty queue is served immediately.
func EstimatePosition(activeCount, serviceMinutes int) Estimate {
	if activeCount < 0 {
		activeCount = 0
	}
	position := activeCount + 1
	status := models.StatusWaiting
	if position == 1 {
		status = models.StatusServing
	}
	return Estimate{
		Position:            position,
		WaitEstimateMinutes: (position - 1) * serviceMinutes,
		Status:              status,
	}
}
