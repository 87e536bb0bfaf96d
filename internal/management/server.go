package management

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/katiya-cw/openesb-standalone/internal/logger"
)

// MBean is a controllable object exposed through the Server.
type MBean interface {
	// Attributes returns a snapshot of every readable attribute.
	Attributes() map[string]interface{}
	// Invoke runs a named operation.
	Invoke(ctx context.Context, operation string) (interface{}, error)
}

// Server is the process-side view of the management directory. It combines
// records from a RecordStore with the MBeans registered by this process.
type Server struct {
	store  RecordStore
	ttl    time.Duration
	owner  string
	logger logger.Logger
	now    func() time.Time

	mu    sync.RWMutex
	local map[ObjectName]MBean
}

// Option customizes a Server.
type Option func(*Server)

// WithRecordTTL makes records expire unless refreshed (see Heartbeat).
func WithRecordTTL(ttl time.Duration) Option {
	return func(s *Server) { s.ttl = ttl }
}

// WithOwner overrides the owner written into records.
func WithOwner(owner string) Option {
	return func(s *Server) { s.owner = owner }
}

// NewServer creates a server over store.
func NewServer(store RecordStore, log logger.Logger, opts ...Option) *Server {
	s := &Server{
		store:  store,
		owner:  Owner(),
		logger: log,
		now:    time.Now,
		local:  make(map[ObjectName]MBean),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordTTL is the expiry applied to records, zero when records never expire.
func (s *Server) RecordTTL() time.Duration { return s.ttl }

// IsRegistered reports whether any process holds a record under name.
func (s *Server) IsRegistered(ctx context.Context, name ObjectName) (bool, error) {
	_, err := s.store.Get(ctx, name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotRegistered):
		return false, nil
	default:
		return false, err
	}
}

// GetAttribute reads attr from a local MBean, or from the stored record when
// the object belongs to another process.
func (s *Server) GetAttribute(ctx context.Context, name ObjectName, attr string) (string, error) {
	s.mu.RLock()
	mbean, ok := s.local[name]
	s.mu.RUnlock()
	if ok {
		v, found := mbean.Attributes()[attr]
		if !found {
			return "", fmt.Errorf("%w: %s.%s", ErrAttributeNotFound, name, attr)
		}
		return fmt.Sprint(v), nil
	}

	rec, err := s.store.Get(ctx, name)
	if err != nil {
		return "", err
	}
	v, found := rec.Attributes[attr]
	if !found {
		return "", fmt.Errorf("%w: %s.%s", ErrAttributeNotFound, name, attr)
	}
	return v, nil
}

// GetBoolAttribute is GetAttribute parsed with strconv.ParseBool.
func (s *Server) GetBoolAttribute(ctx context.Context, name ObjectName, attr string) (bool, error) {
	v, err := s.GetAttribute(ctx, name, attr)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s.%s=%q", ErrNotBoolean, name, attr, v)
	}
	return b, nil
}

// RegisterMBean publishes mbean under name. It fails with
// ErrAlreadyRegistered when a record exists, whoever owns it.
func (s *Server) RegisterMBean(ctx context.Context, name ObjectName, mbean MBean) error {
	if err := s.store.Create(ctx, s.snapshot(name, mbean), s.ttl); err != nil {
		return err
	}
	s.mu.Lock()
	s.local[name] = mbean
	s.mu.Unlock()

	s.logger.Debug("mbean registered", logger.String("name", name.String()))
	return nil
}

// UnregisterMBean removes the record under name, local or not.
func (s *Server) UnregisterMBean(ctx context.Context, name ObjectName) error {
	s.mu.Lock()
	delete(s.local, name)
	s.mu.Unlock()

	if err := s.store.Delete(ctx, name); err != nil {
		return err
	}
	s.logger.Debug("mbean unregistered", logger.String("name", name.String()))
	return nil
}

// Refresh rewrites the record of a local MBean from its current attributes.
func (s *Server) Refresh(ctx context.Context, name ObjectName) error {
	s.mu.RLock()
	mbean, ok := s.local[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return s.store.Update(ctx, s.snapshot(name, mbean), s.ttl)
}

// Touch extends the expiry of a record.
func (s *Server) Touch(ctx context.Context, name ObjectName) error {
	return s.store.Touch(ctx, name, s.ttl)
}

// Invoke runs an operation on a local MBean.
func (s *Server) Invoke(ctx context.Context, name ObjectName, operation string) (interface{}, error) {
	s.mu.RLock()
	mbean, ok := s.local[name]
	s.mu.RUnlock()
	if !ok {
		registered, err := s.IsRegistered(ctx, name)
		if err != nil {
			return nil, err
		}
		if registered {
			return nil, fmt.Errorf("%w: %s", ErrNotLocal, name)
		}
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return mbean.Invoke(ctx, operation)
}

// Records lists every record visible in the store. Local MBeans are
// re-snapshotted so their attributes are current.
func (s *Server) Records(ctx context.Context) ([]*Record, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i, rec := range recs {
		if mbean, ok := s.local[rec.Name]; ok {
			recs[i] = s.snapshot(rec.Name, mbean)
		}
	}
	return recs, nil
}

// Names lists every registered object name.
func (s *Server) Names(ctx context.Context) ([]ObjectName, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]ObjectName, len(recs))
	for i, rec := range recs {
		names[i] = rec.Name
	}
	return names, nil
}

// Record returns one record, current for local MBeans.
func (s *Server) Record(ctx context.Context, name ObjectName) (*Record, error) {
	s.mu.RLock()
	mbean, ok := s.local[name]
	s.mu.RUnlock()
	if ok {
		return s.snapshot(name, mbean), nil
	}
	return s.store.Get(ctx, name)
}

func (s *Server) snapshot(name ObjectName, mbean MBean) *Record {
	attrs := mbean.Attributes()
	rec := &Record{
		Name:       name,
		Attributes: make(map[string]string, len(attrs)),
		Owner:      s.owner,
		UpdatedAt:  s.now(),
	}
	for k, v := range attrs {
		rec.Attributes[k] = fmt.Sprint(v)
	}
	return rec
}
