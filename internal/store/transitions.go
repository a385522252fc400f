package store

import "qms/token-service/internal/models"

var transitionMap = map[string][]string{
	models.StatusUpcoming:  {models.StatusWaiting, models.StatusNoShow},
	models.StatusWaiting:   {models.StatusServing, models.StatusDelayed, models.StatusNoShow},
	models.StatusDelayed:   {models.StatusWaiting, models.StatusServing, models.StatusNoShow},
	models.StatusServing:   {models.StatusCompleted, models.StatusNoShow},
	models.StatusCompleted: {},
	models.StatusNoShow:    {},
}

func ValidTransition(fromStatus, toStatus string) bool {
	allowed, ok := transitionMap[fromStatus]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == toStatus {
			return true
		}
	}
	return false
}

// Transition checks fromStatus -> toStatus against the table and returns an
// *IllegalTransitionError when it is not allowed.
func Transition(fromStatus, toStatus string) error {
	if !ValidTransition(fromStatus, toStatus) {
		return &IllegalTransitionError{From: fromStatus, To: toStatus}
	}
	return nil
}
