// Package management is the directory of named, inspectable objects that
// backs the single-load guard and remote control of an instance.
//
// Records live in a RecordStore. MemoryStore is visible to the whole process;
// RedisStore is shared by every process pointing at the same Redis database.
// The controllable object behind a record (its MBean) only exists in the
// process that registered it.
package management

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var (
	ErrNotRegistered     = errors.New("management: object not registered")
	ErrAlreadyRegistered = errors.New("management: object already registered")
	ErrAttributeNotFound = errors.New("management: attribute not found")
	ErrNotBoolean        = errors.New("management: attribute is not a boolean")
	ErrNotLocal          = errors.New("management: object is registered by another process")
	ErrUnknownOperation  = errors.New("management: unknown operation")
)

// ObjectName identifies a record, e.g. "net.open-esb.standalone:instance=server".
type ObjectName string

// NewObjectName builds "<domain>:<key>=<value>".
func NewObjectName(domain, key, value string) ObjectName {
	return ObjectName(fmt.Sprintf("%s:%s=%s", domain, key, value))
}

// Domain returns the part before the colon.
func (n ObjectName) Domain() string {
	d, _, _ := strings.Cut(string(n), ":")
	return d
}

func (n ObjectName) String() string { return string(n) }

// Record is the store-visible snapshot of a registered object.
type Record struct {
	Name       ObjectName        `json:"name"`
	Attributes map[string]string `json:"attributes"`
	Owner      string            `json:"owner"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// RecordStore persists records. Create must be atomic with respect to other
// Create calls for the same name: the first caller wins and the others get
// ErrAlreadyRegistered.
type RecordStore interface {
	Get(ctx context.Context, name ObjectName) (*Record, error)
	Create(ctx context.Context, rec *Record, ttl time.Duration) error
	Update(ctx context.Context, rec *Record, ttl time.Duration) error
	Delete(ctx context.Context, name ObjectName) error
	List(ctx context.Context) ([]*Record, error)
	Touch(ctx context.Context, name ObjectName, ttl time.Duration) error
}

// Owner identifies this process in records it writes.
func Owner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

func cloneRecord(rec *Record) *Record {
	attrs := make(map[string]string, len(rec.Attributes))
	for k, v := range rec.Attributes {
		attrs[k] = v
	}
	return &Record{
		Name:       rec.Name,
		Attributes: attrs,
		Owner:      rec.Owner,
		UpdatedAt:  rec.UpdatedAt,
	}
}
