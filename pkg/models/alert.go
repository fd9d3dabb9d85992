package models

import (
	"encoding/json"
	"strings"
	"time"
)

// ServiceName identifies a monitored service family.
type ServiceName string

const (
	ServiceAzure        ServiceName = "azure"
	ServiceMicrosoft365 ServiceName = "microsoft365"
	ServiceEntra        ServiceName = "entra"
	ServiceGitHub       ServiceName = "github"
)

// AllServices returns the known service families in display order.
func AllServices() []ServiceName {
	return []ServiceName{ServiceAzure, ServiceMicrosoft365, ServiceEntra, ServiceGitHub}
}

// DisplayName returns the human readable family name.
func (s ServiceName) DisplayName() string {
	switch s {
	case ServiceAzure:
		return "Microsoft Azure"
	case ServiceMicrosoft365:
		return "Microsoft 365"
	case ServiceEntra:
		return "Microsoft Entra ID"
	case ServiceGitHub:
		return "GitHub"
	default:
		return string(s)
	}
}

// Valid reports whether s is one of the known families.
func (s ServiceName) Valid() bool {
	for _, known := range AllServices() {
		if s == known {
			return true
		}
	}
	return false
}

// Severity is derived locally from upstream text, never trusted from upstream.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities, higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Status is the alert lifecycle state.
type Status string

const (
	StatusInvestigating Status = "investigating"
	StatusIdentified    Status = "identified"
	StatusMonitoring    Status = "monitoring"
	StatusResolved      Status = "resolved"
)

// Active reports whether the status is one of the non-resolved states.
func (s Status) Active() bool {
	return s == StatusInvestigating || s == StatusIdentified || s == StatusMonitoring
}

// DefaultRegion is used when no region can be inferred.
const DefaultRegion = "Global"

// Alert is the normalized, source-agnostic incident record.
//
// Status == resolved holds exactly when ResolvedAt is set.
type Alert struct {
	ExternalID        string          `json:"external_id"`
	ServiceName       ServiceName     `json:"service_name"`
	Title             string          `json:"title"`
	Impact            string          `json:"impact"`
	Severity          Severity        `json:"severity"`
	Status            Status          `json:"status"`
	Region            string          `json:"region"`
	AffectedServices  []string        `json:"affected_services"`
	SourceAPI         string          `json:"source_api"`
	StartTime         time.Time       `json:"start_time"`
	UpdatedAt         time.Time       `json:"updated_at"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
	ResolutionSummary *string         `json:"resolution_summary,omitempty"`
	RawPayload        json.RawMessage `json:"raw_payload,omitempty"`
}

// IsActive reports whether the alert has not been resolved yet.
func (a Alert) IsActive() bool {
	return a.Status != StatusResolved
}

// Clone returns a deep copy so callers never share slices or pointers with a store.
func (a Alert) Clone() Alert {
	out := a
	if a.AffectedServices != nil {
		out.AffectedServices = append([]string(nil), a.AffectedServices...)
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		out.ResolvedAt = &t
	}
	if a.ResolutionSummary != nil {
		s := *a.ResolutionSummary
		out.ResolutionSummary = &s
	}
	if a.RawPayload != nil {
		out.RawPayload = append(json.RawMessage(nil), a.RawPayload...)
	}
	return out
}

// AlertQuery filters alerts for the search read path.
type AlertQuery struct {
	Term  string     `json:"term,omitempty"`
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
	Limit int        `json:"limit,omitempty"`
}

// DefaultSearchLimit caps search results when the query sets no limit.
const DefaultSearchLimit = 100

// Matches reports whether a satisfies the term and StartTime bounds.
// The term is a case-insensitive substring of title, impact or any affected service.
func (q AlertQuery) Matches(a Alert) bool {
	if q.Start != nil && a.StartTime.Before(*q.Start) {
		return false
	}
	if q.End != nil && a.StartTime.After(*q.End) {
		return false
	}
	term := strings.ToLower(strings.TrimSpace(q.Term))
	if term == "" {
		return true
	}
	if strings.Contains(strings.ToLower(a.Title), term) || strings.Contains(strings.ToLower(a.Impact), term) {
		return true
	}
	for _, svc := range a.AffectedServices {
		if strings.Contains(strings.ToLower(svc), term) {
			return true
		}
	}
	return false
}

// EffectiveLimit returns Limit, or DefaultSearchLimit when unset.
func (q AlertQuery) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultSearchLimit
	}
	return q.Limit
}
