// Package circuitbreaker stops calling a failing dependency for a cool-down
// period. The event producer uses it so a broker outage costs checkout one
// fast rejection instead of a full retry cycle.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrOpen = errors.New("circuit breaker is open")

type Config struct {
	Name string
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures int
	// Timeout is how long the circuit stays open before a trial call.
	Timeout time.Duration
	// MaxRequests caps concurrent trial calls while half-open.
	MaxRequests   int
	OnStateChange func(name string, from, to State)
}

// Snapshot is a point-in-time copy of the breaker counters.
type Snapshot struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        int       `json:"failures"`
	TotalRequests   int64     `json:"total_requests"`
	TotalFailures   int64     `json:"total_failures"`
	TotalSuccesses  int64     `json:"total_successes"`
	TotalRejected   int64     `json:"total_rejected"`
	StateChanges    int64     `json:"state_changes"`
	LastFailure     time.Time `json:"last_failure,omitempty"`
	LastStateChange time.Time `json:"last_state_change,omitempty"`
}

type CircuitBreaker struct {
	cfg    Config
	now    func() time.Time
	logger *logrus.Logger

	mu           sync.Mutex
	state        State
	failures     int
	inFlight     int
	lastFailTime time.Time

	totalRequests   int64
	totalFailures   int64
	totalSuccesses  int64
	totalRejected   int64
	stateChanges    int64
	lastStateChange time.Time
}

type bound struct {
	name       string
	value      *int
	def, upper int
}

// New sanitises cfg, logging every value it had to replace.
func New(cfg Config, logger *logrus.Logger) *CircuitBreaker {
	if cfg.Name == "" {
		cfg.Name = "unnamed"
	}
	for _, b := range []bound{
		{"max_failures", &cfg.MaxFailures, 5, 1000},
		{"max_requests", &cfg.MaxRequests, 1, 100},
	} {
		switch {
		case *b.value <= 0:
			logger.WithFields(logrus.Fields{
				"circuit_breaker": cfg.Name,
				"setting":         b.name,
				"invalid_value":   *b.value,
				"default_value":   b.def,
			}).Warn("Invalid circuit breaker setting, using default")
			*b.value = b.def
		case *b.value > b.upper:
			logger.WithFields(logrus.Fields{
				"circuit_breaker": cfg.Name,
				"setting":         b.name,
				"invalid_value":   *b.value,
				"max_allowed":     b.upper,
			}).Warn("Circuit breaker setting too high, capping")
			*b.value = b.upper
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	} else if cfg.Timeout > 10*time.Minute {
		cfg.Timeout = 10 * time.Minute
	}

	return &CircuitBreaker{
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
		state:  StateClosed,
	}
}

// Execute runs fn unless the circuit is open. A cancelled ctx is reported
// as-is and does not count as a dependency failure.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.inFlight > 0 {
		cb.inFlight--
	}
	switch {
	case err == nil:
		cb.totalSuccesses++
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.setState(StateClosed)
		}
	case ctx.Err() != nil:
	default:
		cb.totalFailures++
		cb.failures++
		cb.lastFailTime = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.setState(StateOpen)
		}
	}
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.lastFailTime) < cb.cfg.Timeout {
			cb.totalRejected++
			return ErrOpen
		}
		cb.setState(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.inFlight >= cb.cfg.MaxRequests {
			cb.totalRejected++
			return ErrOpen
		}
		cb.inFlight++
	}
	cb.totalRequests++
	return nil
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.inFlight = 0
	cb.stateChanges++
	cb.lastStateChange = cb.now()
	if to == StateClosed {
		cb.failures = 0
	}

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.cfg.Name,
		"from_state":      from.String(),
		"to_state":        to.String(),
	}).Info("Circuit breaker state changed")

	if cb.cfg.OnStateChange != nil {
		go cb.notify(from, to)
	}
}

func (cb *CircuitBreaker) notify(from, to State) {
	defer func() {
		if r := recover(); r != nil {
			cb.logger.WithFields(logrus.Fields{
				"circuit_breaker": cb.cfg.Name,
				"panic":           r,
			}).Error("Circuit breaker state change callback panicked")
		}
	}()
	cb.cfg.OnStateChange(cb.cfg.Name, from, to)
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:            cb.cfg.Name,
		State:           cb.state.String(),
		Failures:        cb.failures,
		TotalRequests:   cb.totalRequests,
		TotalFailures:   cb.totalFailures,
		TotalSuccesses:  cb.totalSuccesses,
		TotalRejected:   cb.totalRejected,
		StateChanges:    cb.stateChanges,
		LastFailure:     cb.lastFailTime,
		LastStateChange: cb.lastStateChange,
	}
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.setState(StateClosed)
	cb.failures = 0
	cb.lastFailTime = time.Time{}
}

func (cb *CircuitBreaker) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return fmt.Sprintf("CircuitBreaker(name=%s, state=%s, failures=%d/%d)",
		cb.cfg.Name, cb.state, cb.failures, cb.cfg.MaxFailures)
}
