package health

import (
	"context"
	"time"
)

// CheckType represents the type of health check
type CheckType string

const (
	CheckTypeHTTP    CheckType = "http"
	CheckTypeTCP     CheckType = "tcp"
	CheckTypeCommand CheckType = "command"
	CheckTypeCert    CheckType = "cert"
)

// Result represents the outcome of a health check
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker is the interface that all health checkers must implement
type Checker interface {
	// Check performs the health check and returns the result
	Check(ctx context.Context) Result

	// Type returns the type of health check
	Type() CheckType

	// Target names what is being checked, for logs and reports
	Target() string
}

// Config controls how often a target is probed and how many failures
// in a row mark it unhealthy
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
}

// DefaultConfig returns the probe settings used for cluster members
func DefaultConfig() Config {
	return Config{
		Interval: 10 * time.Second,
		Timeout:  3 * time.Second,
		Retries:  3,
	}
}

// Run performs one check bounded by timeout
func Run(ctx context.Context, checker Checker, timeout time.Duration) Result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return checker.Check(ctx)
}

// Status tracks consecutive results for one target
type Status struct {
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	LastResult           Result

	// Healthy flips to false after Retries failures in a row and back
	// to true on the next success
	Healthy bool
}

// NewStatus creates a status that starts out healthy
func NewStatus() *Status {
	return &Status{Healthy: true}
}

// Update records result and reports whether Healthy changed
func (s *Status) Update(result Result, retries int) bool {
	s.LastResult = result
	was := s.Healthy

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0
		if s.ConsecutiveFailures >= retries {
			s.Healthy = false
		}
	}

	return was != s.Healthy
}

func failed(start time.Time, message string) Result {
	return Result{Healthy: false, Message: message, CheckedAt: start, Duration: time.Since(start)}
}

func passed(start time.Time, message string) Result {
	return Result{Healthy: true, Message: message, CheckedAt: start, Duration: time.Since(start)}
}
