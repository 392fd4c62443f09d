package telemetry

import "sync"

// HealthReport is the /healthz payload.
type HealthReport struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// HealthTracker records per-component failures. Any failing component turns
// the overall report degraded.
type HealthTracker struct {
	mu         sync.RWMutex
	components map[string]error
}

func NewHealthTracker() *HealthTracker {
	return &HealthTracker{components: make(map[string]error)}
}

// SetComponent records the latest outcome for a component; nil clears it.
func (t *HealthTracker) SetComponent(name string, err error) {
	if t == nil || name == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.components, name)
		return
	}
	t.components[name] = err
}

func (t *HealthTracker) Report() HealthReport {
	report := HealthReport{Status: "ok"}
	if t == nil {
		return report
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.components) == 0 {
		return report
	}
	report.Status = "degraded"
	report.Components = make(map[string]string, len(t.components))
	for name, err := range t.components {
		report.Components[name] = err.Error()
	}
	return report
}
