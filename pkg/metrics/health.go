package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Overall component health states reported by GetHealth
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Readiness states reported by GetReadiness
const (
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// HealthStatus is the body of the /components and readiness responses
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
}

// ComponentHealth is the last reported state of one component
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// registry holds component health for this process. Critical components
// gate readiness and make the node unhealthy when they fail; any other
// failing component, such as an unreachable store member, only degrades it.
type registry struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	critical   map[string]bool
	startTime  time.Time
	version    string
}

var components = newRegistry()

func newRegistry() *registry {
	return &registry{
		components: make(map[string]ComponentHealth),
		critical:   map[string]bool{"raft": true, "api": true},
		startTime:  time.Now(),
	}
}

// SetVersion sets the version reported in health responses
func SetVersion(version string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	components.version = version
}

// SetCriticalComponents replaces the set of components that gate readiness
func SetCriticalComponents(names ...string) {
	components.mu.Lock()
	defer components.mu.Unlock()

	components.critical = make(map[string]bool, len(names))
	for _, name := range names {
		components.critical[name] = true
	}
}

// RegisterComponent records the state of a component
func RegisterComponent(name string, healthy bool, message string) {
	components.mu.Lock()
	defer components.mu.Unlock()

	components.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// UpdateComponent is RegisterComponent for components already known
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// RemoveComponent forgets a component, for example a member that left the cluster
func RemoveComponent(name string) {
	components.mu.Lock()
	defer components.mu.Unlock()
	delete(components.components, name)
}

// GetHealth summarizes every registered component
func GetHealth() HealthStatus {
	components.mu.RLock()
	defer components.mu.RUnlock()

	status := StatusHealthy
	var failing []string
	states := make(map[string]string, len(components.components))

	for name, comp := range components.components {
		if comp.Healthy {
			states[name] = StatusHealthy
			continue
		}
		states[name] = StatusUnhealthy + ": " + comp.Message
		failing = append(failing, name)

		if components.critical[name] {
			status = StatusUnhealthy
		} else if status == StatusHealthy {
			status = StatusDegraded
		}
	}

	return components.status(status, states, failingMessage(failing))
}

// GetReadiness reports whether every critical component is registered and healthy
func GetReadiness() HealthStatus {
	components.mu.RLock()
	defer components.mu.RUnlock()

	names := make([]string, 0, len(components.critical))
	for name := range components.critical {
		names = append(names, name)
	}
	sort.Strings(names)

	status := StatusReady
	message := ""
	states := make(map[string]string, len(names))

	for _, name := range names {
		comp, ok := components.components[name]
		switch {
		case !ok:
			states[name] = "not registered"
		case !comp.Healthy:
			states[name] = "not ready: " + comp.Message
		default:
			states[name] = StatusReady
			continue
		}
		if status == StatusReady {
			status = StatusNotReady
			message = "waiting for " + name
		}
	}

	return components.status(status, states, message)
}

func (r *registry) status(status string, states map[string]string, message string) HealthStatus {
	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: states,
		Message:    message,
		Version:    r.version,
		Uptime:     time.Since(r.startTime).Round(time.Second).String(),
	}
}

func failingMessage(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is failing"
	default:
		sort.Strings(names)
		return names[0] + " and " + strconv.Itoa(len(names)-1) + " more are failing"
	}
}

// HealthHandler serves GetHealth. Only an unhealthy critical component
// turns the response into a 503.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	}
}

// ReadyHandler serves GetReadiness
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()
		code := http.StatusOK
		if readiness.Status != StatusReady {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, readiness)
	}
}

// LivenessHandler answers 200 while the process is running
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(components.startTime).Round(time.Second).String(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
