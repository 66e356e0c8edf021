package models

// AlertBatch is the alertmanager-compatible webhook body shared by the
// alertmanager, prometheus and grafana sources.
type AlertBatch struct {
	Version           string            `json:"version,omitempty"`
	GroupKey          string            `json:"groupKey,omitempty"`
	Status            string            `json:"status,omitempty"`
	Receiver          string            `json:"receiver,omitempty"`
	GroupLabels       map[string]string `json:"groupLabels,omitempty"`
	CommonLabels      map[string]string `json:"commonLabels,omitempty"`
	CommonAnnotations map[string]string `json:"commonAnnotations,omitempty"`
	Alerts            []Alert           `json:"alerts"`
}

// Alert is one entry of an alert batch.
type Alert struct {
	Status      string            `json:"status"`
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	StartsAt    string            `json:"startsAt,omitempty"`
	EndsAt      string            `json:"endsAt,omitempty"`
	Fingerprint string            `json:"fingerprint,omitempty"`
}

const (
	AlertStatusFiring     = "firing"
	AlertSeverityCritical = "critical"

	// fallbackValue fills a template slot when the source field is absent.
	fallbackValue = "unknown"
)

// IsFiringCritical is the two-stage notification filter: only alerts that
// are currently firing with critical severity produce an outbound send.
func (a Alert) IsFiringCritical() bool {
	return a.Status == AlertStatusFiring && a.Labels["severity"] == AlertSeverityCritical
}

// Name returns the alert name label, or the fallback placeholder.
func (a Alert) Name() string {
	if v := a.Labels["alertname"]; v != "" {
		return v
	}
	return fallbackValue
}

// TemplateParams builds the fixed 4-field parameter tuple consumed by the
// notification template: name, severity, summary, instance. Each slot
// falls back to a placeholder when the source field is absent so the
// provider-side parameter contract is always satisfied.
func (a Alert) TemplateParams() []string {
	severity := a.Labels["severity"]
	if severity == "" {
		severity = fallbackValue
	}
	summary := a.Annotations["summary"]
	if summary == "" {
		summary = a.Annotations["description"]
	}
	if summary == "" {
		summary = fallbackValue
	}
	instance := a.Labels["instance"]
	if instance == "" {
		instance = a.Labels["job"]
	}
	if instance == "" {
		instance = fallbackValue
	}
	return []string{a.Name(), severity, summary, instance}
}
