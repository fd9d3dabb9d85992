package models

// HealthStatus is the derived status of a service family.
type HealthStatus string

const (
	HealthOperational HealthStatus = "operational"
	HealthDegraded    HealthStatus = "degraded"
	HealthOutage      HealthStatus = "outage"
)

// ServiceHealth groups the active alerts of one family.
type ServiceHealth struct {
	ID     ServiceName  `json:"id"`
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Alerts []Alert      `json:"alerts"`
}

// HealthOverview is the combined view consumed by the dashboard.
type HealthOverview struct {
	Services       []ServiceHealth `json:"services"`
	ResolvedAlerts []Alert         `json:"resolvedAlerts"`
	LastRun        *RunRecord      `json:"lastRun,omitempty"`
	Error          string          `json:"error,omitempty"`
}
