package observability

import "context"

// HealthStatus is the coarse state of a provider or of the whole client.
type HealthStatus string

const (
	HealthStatusUp       HealthStatus = "up"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusDown     HealthStatus = "down"
)

// Health reports one provider.
type Health struct {
	Name    string            `json:"name"`
	Status  HealthStatus      `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Report aggregates provider health. The overall status is the worst
// status among its components.
type Report struct {
	Service    string       `json:"service"`
	Status     HealthStatus `json:"status"`
	Components []Health     `json:"components,omitempty"`
}

// HealthChecker is implemented by anything that can describe its own health.
type HealthChecker interface {
	CheckHealth(ctx context.Context) Health
}

// NewReport returns an empty report with status up.
func NewReport(service string) *Report {
	return &Report{Service: service, Status: HealthStatusUp}
}

// Add appends h and lowers the overall status if needed.
func (r *Report) Add(h Health) {
	r.Components = append(r.Components, h)
	if rank(h.Status) > rank(r.Status) {
		r.Status = h.Status
	}
}

// Check runs every checker and collects the results.
func Check(ctx context.Context, service string, checkers ...HealthChecker) *Report {
	r := NewReport(service)
	for _, c := range checkers {
		r.Add(c.CheckHealth(ctx))
	}
	return r
}

func rank(s HealthStatus) int {
	switch s {
	case HealthStatusDown:
		return 2
	case HealthStatusDegraded:
		return 1
	default:
		return 0
	}
}
