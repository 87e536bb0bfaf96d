// Package jta is the instance transaction service. It hands out
// transactions with a deadline, lets resources enlist in them and drives a
// one-phase completion across the enlisted resources.
package jta

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/katiya-cw/openesb-standalone/internal/logger"
)

var (
	ErrNotStarted  = errors.New("jta: transaction service not started")
	ErrNotActive   = errors.New("jta: transaction not active")
	ErrTimedOut    = errors.New("jta: transaction timed out")
	ErrRolledBack  = errors.New("jta: transaction rolled back")
	ErrNilResource = errors.New("jta: nil resource")
)

// Resource takes part in a transaction.
type Resource interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Status of a transaction.
type Status int

const (
	StatusActive Status = iota
	StatusCommitted
	StatusRolledBack
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCommitted:
		return "committed"
	case StatusRolledBack:
		return "rolled-back"
	case StatusTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// Manager is the transaction service.
type Manager struct {
	timeout time.Duration
	logger  logger.Logger
	now     func() time.Time

	mu      sync.Mutex
	started bool
	active  map[string]*Transaction
}

func NewManager(timeout time.Duration, log logger.Logger) *Manager {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Manager{
		timeout: timeout,
		logger:  log,
		now:     time.Now,
		active:  make(map[string]*Transaction),
	}
}

func (m *Manager) Name() string { return "transaction-manager" }

func (m *Manager) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	m.logger.Info("transaction service started", logger.Duration("timeout", m.timeout))
	return nil
}

// Stop refuses new transactions and rolls back the ones still in flight.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.started = false
	inflight := make([]*Transaction, 0, len(m.active))
	for _, tx := range m.active {
		inflight = append(inflight, tx)
	}
	m.mu.Unlock()

	var errs []error
	for _, tx := range inflight {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, ErrNotActive) {
			errs = append(errs, fmt.Errorf("rollback %s: %w", tx.id, err))
		}
	}
	if len(inflight) > 0 {
		m.logger.Warn("rolled back in-flight transactions", logger.Int("count", len(inflight)))
	}
	m.logger.Info("transaction service stopped")
	return errors.Join(errs...)
}

// Begin starts a transaction that times out after the configured timeout.
func (m *Manager) Begin(_ context.Context) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return nil, ErrNotStarted
	}

	now := m.now()
	tx := &Transaction{
		id:       uuid.NewString(),
		begun:    now,
		deadline: now.Add(m.timeout),
		manager:  m,
	}
	tx.timer = time.AfterFunc(m.timeout, tx.expire)
	m.active[tx.id] = tx
	return tx, nil
}

// Active returns the ids of in-flight transactions, sorted.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

// Transaction is a unit of work spanning the resources enlisted in it.
type Transaction struct {
	id       string
	begun    time.Time
	deadline time.Time
	manager  *Manager
	timer    *time.Timer

	mu        sync.Mutex
	status    Status
	resources []Resource
}

func (tx *Transaction) ID() string { return tx.id }

func (tx *Transaction) Deadline() time.Time { return tx.deadline }

func (tx *Transaction) Status() Status {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.status
}

// Enlist adds r to the transaction.
func (tx *Transaction) Enlist(r Resource) error {
	if r == nil {
		return ErrNilResource
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.activeErr(); err != nil {
		return err
	}
	tx.resources = append(tx.resources, r)
	return nil
}

// Commit commits every enlisted resource in enlistment order. When one
// fails the remaining resources are rolled back and the transaction ends
// rolled back.
func (tx *Transaction) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.activeErr(); err != nil {
		return err
	}
	tx.finish()

	for i, r := range tx.resources {
		if err := r.Commit(ctx); err != nil {
			tx.status = StatusRolledBack
			rest := rollbackAll(ctx, tx.resources[i+1:])
			return errors.Join(fmt.Errorf("%w: %v", ErrRolledBack, err), rest)
		}
	}
	tx.status = StatusCommitted
	return nil
}

// Rollback rolls back every enlisted resource, in reverse order.
func (tx *Transaction) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.status != StatusActive {
		return fmt.Errorf("%w: %s", ErrNotActive, tx.status)
	}
	tx.finish()
	tx.status = StatusRolledBack
	return rollbackAll(ctx, tx.resources)
}

func (tx *Transaction) expire() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.status != StatusActive {
		return
	}
	tx.finish()
	tx.status = StatusTimedOut
	if err := rollbackAll(context.Background(), tx.resources); err != nil {
		tx.manager.logger.Error("rollback of timed out transaction failed",
			logger.String("tx", tx.id), logger.Error(err))
		return
	}
	tx.manager.logger.Warn("transaction timed out", logger.String("tx", tx.id))
}

// activeErr must be called with tx.mu held.
func (tx *Transaction) activeErr() error {
	switch tx.status {
	case StatusActive:
		return nil
	case StatusTimedOut:
		return ErrTimedOut
	default:
		return fmt.Errorf("%w: %s", ErrNotActive, tx.status)
	}
}

func (tx *Transaction) finish() {
	tx.timer.Stop()
	tx.manager.forget(tx.id)
}

func rollbackAll(ctx context.Context, resources []Resource) error {
	var errs []error
	for i := len(resources) - 1; i >= 0; i-- {
		if err := resources[i].Rollback(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
