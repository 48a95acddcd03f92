package circuit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rzzdr/option-valuation/pkg/utils/logger"
)

type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrTooManyRequests    = errors.New("too many requests")
)

type Config struct {
	MaxFailures   int                               // Consecutive failures before opening
	Timeout       time.Duration                     // Time spent open before a probe is allowed
	MaxRequests   int                               // Probes allowed while half-open
	IsFailure     func(error) bool                  // Decides whether an error counts against the source
	OnStateChange func(name string, from, to State) // Called after every transition
}

// DefaultConfig suits a data vendor queried a few times per valuation
func DefaultConfig() Config {
	return Config{
		MaxFailures: 3,
		Timeout:     30 * time.Second,
		MaxRequests: 1,
		IsFailure: func(err error) bool {
			// A caller giving up is not the source's fault
			return err != nil && !errors.Is(err, context.Canceled)
		},
	}
}

type CircuitBreaker struct {
	name      string
	config    Config
	state     State
	failures  int
	probes    int
	requests  int
	successes int
	openedAt  time.Time
	now       func() time.Time
	mutex     sync.Mutex
	log       *logger.Logger
}

type Counts struct {
	Requests  int
	Failures  int
	Successes int
}

func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	defaults := DefaultConfig()
	if config.MaxFailures <= 0 {
		config.MaxFailures = defaults.MaxFailures
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = defaults.MaxRequests
	}
	if config.IsFailure == nil {
		config.IsFailure = defaults.IsFailure
	}

	cb := &CircuitBreaker{
		name:   name,
		config: config,
		state:  StateClosed,
		now:    time.Now,
		log:    logger.GetLogger(fmt.Sprintf("circuit.%s", name)),
	}
	cb.log.Debugf("Circuit breaker '%s' initialized in CLOSED state", name)
	return cb
}

// Execute runs fn unless the breaker is open
func Execute[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.beforeRequest(); err != nil {
		return zero, fmt.Errorf("%s: %w", cb.name, err)
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(true)
			panic(r)
		}
	}()

	result, err := fn(ctx)
	cb.afterRequest(cb.config.IsFailure(err))
	return result, err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Timeout {
			return ErrCircuitBreakerOpen
		}
		cb.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.probes >= cb.config.MaxRequests {
			return ErrTooManyRequests
		}
		cb.probes++
	}
	cb.requests++
	return nil
}

func (cb *CircuitBreaker) afterRequest(failed bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if !failed {
		cb.successes++
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.transition(StateClosed)
		}
		return
	}

	cb.failures++
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// transition must be called with the mutex held
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	cb.probes = 0
	switch to {
	case StateOpen:
		cb.openedAt = cb.now()
		cb.log.Warnf("Circuit breaker '%s' transitioned from %s to OPEN after %d failures", cb.name, from, cb.failures)
	case StateClosed:
		cb.failures = 0
		cb.log.Infof("Circuit breaker '%s' transitioned from %s to CLOSED", cb.name, from)
	default:
		cb.log.Infof("Circuit breaker '%s' transitioned from %s to %s", cb.name, from, to)
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return Counts{
		Requests:  cb.requests,
		Failures:  cb.requests - cb.successes,
		Successes: cb.successes,
	}
}

func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	if cb.state != StateClosed {
		cb.transition(StateClosed)
	}
	cb.failures = 0
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Manager hands out one breaker per data source
type Manager struct {
	config   Config
	breakers map[string]*CircuitBreaker
	mutex    sync.RWMutex
}

func NewManager(config Config) *Manager {
	return &Manager{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

func (m *Manager) GetBreaker(name string) *CircuitBreaker {
	m.mutex.RLock()
	breaker, exists := m.breakers[name]
	m.mutex.RUnlock()
	if exists {
		return breaker
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()
	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}
	breaker = NewCircuitBreaker(name, m.config)
	m.breakers[name] = breaker
	return breaker
}

type BreakerStats struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Requests  int    `json:"requests"`
	Failures  int    `json:"failures"`
	Successes int    `json:"successes"`
}

// Stats returns a snapshot of every breaker ordered by name
func (m *Manager) Stats() []BreakerStats {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	stats := make([]BreakerStats, 0, len(m.breakers))
	for name, breaker := range m.breakers {
		counts := breaker.Counts()
		stats = append(stats, BreakerStats{
			Name:      name,
			State:     breaker.State().String(),
			Requests:  counts.Requests,
			Failures:  counts.Failures,
			Successes: counts.Successes,
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
