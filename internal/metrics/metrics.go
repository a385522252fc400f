// Package metrics exposes the service's counters and gauges.
//
// Components depend on the Recorder interface. NewNop is used in tests and
// when metrics are disabled; NewPrometheus backs the /metrics endpoint.
package metrics

// Recorder collects token-service measurements.
type Recorder interface {
	// ObserveAssignment counts one Assign call by outcome
	// (assigned, reused, rate_limited, duplicate, ...).
	ObserveAssignment(outcome string)
	// ObserveTransition counts an accepted status change by target status.
	ObserveTransition(status string)
	// SetActive records the number of active tokens in a queue.
	SetActive(queue string, count int)
	// ObserveNotification counts notification dispatch results
	// (sent, failed, dropped).
	ObserveNotification(result string)
	// ObserveEventDropped counts events that could not be delivered to a sink.
	ObserveEventDropped(sink string)
	// ObserveRequest counts an HTTP request by method and status code.
	ObserveRequest(method string, status int)
}

type Nop struct{}

var _ Recorder = Nop{}

func NewNop() Nop { return Nop{} }

func (Nop) ObserveAssignment(string)   {}
func (Nop) ObserveTransition(string)   {}
func (Nop) SetActive(string, int)      {}
func (Nop) ObserveNotification(string) {}
func (Nop) ObserveEventDropped(string) {}
func (Nop) ObserveRequest(string, int) {}
