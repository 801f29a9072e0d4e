package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigurationMissing is returned when the pool specification is absent.
	ErrConfigurationMissing = errors.New("pool specification missing")
	// ErrNoAvailableAgents is returned when every probed agent reported busy.
	ErrNoAvailableAgents = errors.New("no available agents")
	// ErrTooManyReplicas is returned when an entry asks for more than
	// MaxReplicas agents.
	ErrTooManyReplicas = errors.New("too many replicas")
)

// ProbeError reports a transport failure while checking an agent's busy state.
type ProbeError struct {
	Endpoint string
	Err      error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe agent %s: %v", e.Endpoint, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// ForwardError reports a transport failure while relaying a scrape request.
type ForwardError struct {
	Endpoint string
	Err      error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("forward to agent %s: %v", e.Endpoint, e.Err)
}

func (e *ForwardError) Unwrap() error { return e.Err }

// RestartError reports a failed shutdown call during a restart cycle.
type RestartError struct {
	Endpoint string
	Err      error
}

func (e *RestartError) Error() string {
	return fmt.Sprintf("restart agent %s: %v", e.Endpoint, e.Err)
}

func (e *RestartError) Unwrap() error { return e.Err }
