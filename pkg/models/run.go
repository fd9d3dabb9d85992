package models

import "time"

// RunStatus summarizes how a monitoring cycle ended.
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunFailed  RunStatus = "failed"
)

// ServiceTiming records how one source behaved during a cycle.
type ServiceTiming struct {
	Checked        bool   `json:"checked"`
	Alerts         int    `json:"alerts"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

// RunRecord is written once per completed cycle and never modified.
type RunRecord struct {
	ID             string                        `json:"id"`
	RunAt          time.Time                     `json:"run_at"`
	DurationMs     int64                         `json:"duration_ms"`
	AlertsFound    int                           `json:"alerts_found"`
	AlertsUpdated  int                           `json:"alerts_updated"`
	AlertsResolved int                           `json:"alerts_resolved"`
	Errors         []string                      `json:"errors"`
	Status         RunStatus                     `json:"status"`
	ServiceTimings map[ServiceName]ServiceTiming `json:"service_timings,omitempty"`
}

// Clone returns a deep copy of the record.
func (r RunRecord) Clone() RunRecord {
	out := r
	out.Errors = append([]string(nil), r.Errors...)
	if r.ServiceTimings != nil {
		out.ServiceTimings = make(map[ServiceName]ServiceTiming, len(r.ServiceTimings))
		for k, v := range r.ServiceTimings {
			out.ServiceTimings[k] = v
		}
	}
	return out
}
