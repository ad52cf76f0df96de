package output

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink defines a destination for lifecycle events.
type Sink interface {
	Write(v any) error
	Close() error
}

// Emitter is what producers (launcher, supervisor) depend on.
type Emitter interface {
	Emit(e Event) error
}

// Manager fans events out to multiple sinks. It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	sinks []Sink
	now   func() time.Time
	runID string
}

// NewManager returns a Manager whose events carry a fresh random run ID, so
// lines from one invocation can be told apart in a shared --out file.
func NewManager() *Manager {
	return &Manager{now: time.Now, runID: uuid.NewString()}
}

func (m *Manager) RunID() string {
	if m == nil {
		return ""
	}
	return m.runID
}

func (m *Manager) AddSink(s Sink) error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	if s == nil {
		return fmt.Errorf("sink must not be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
	return nil
}

// Emit stamps e with the current time and run ID when unset and writes it to
// every sink.
func (m *Manager) Emit(e Event) error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	if e.Time.IsZero() {
		e.Time = m.now()
	}
	if e.RunID == "" {
		e.RunID = m.runID
	}
	return m.Write(e)
}

func (m *Manager) Write(v any) error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, s := range m.sinks {
		if err := s.Write(v); err != nil {
			errs = append(errs, fmt.Errorf("write %T: %w", s, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors writing to sinks: %w", errors.Join(errs...))
	}
	return nil
}

func (m *Manager) Close() error {
	if m == nil {
		return fmt.Errorf("output manager is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %T: %w", s, err))
		}
	}
	m.sinks = nil
	if len(errs) > 0 {
		return fmt.Errorf("errors closing sinks: %w", errors.Join(errs...))
	}
	return nil
}
