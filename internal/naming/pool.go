package naming

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/katiya-cw/openesb-standalone/internal/utils"
)

var ErrPoolClosed = errors.New("naming: data source closed")

// PoolProperties configures the connection pool. Property names follow the
// ones used by Tomcat JDBC pool definitions; times are in milliseconds.
type PoolProperties struct {
	Name                   string `bind:"name"`
	MaxActive              int    `bind:"maxActive"`
	MaxIdle                int    `bind:"maxIdle"`
	MinIdle                int    `bind:"minIdle"`
	InitialSize            int    `bind:"initialSize"`
	MaxWait                int    `bind:"maxWait"`
	MaxAge                 int64  `bind:"maxAge"`
	MinEvictableIdleTime   int    `bind:"minEvictableIdleTimeMillis"`
	TestOnBorrow           bool   `bind:"testOnBorrow"`
	TestOnConnect          bool   `bind:"testOnConnect"`
	ValidationQuery        string `bind:"validationQuery"`
	ValidationQueryTimeout int    `bind:"validationQueryTimeout"` // seconds
	InitSQL                string `bind:"initSQL"`
}

// DefaultPoolProperties mirrors the Tomcat pool defaults.
func DefaultPoolProperties() PoolProperties {
	return PoolProperties{
		MaxActive:              100,
		MaxIdle:                100,
		MinIdle:                10,
		InitialSize:            10,
		MaxWait:                30000,
		MinEvictableIdleTime:   60000,
		ValidationQueryTimeout: -1,
	}
}

// PooledDataSource owns a bound native data source and the *sql.DB opened
// from it. The database is opened on first use.
type PooledDataSource struct {
	native NativeDataSource
	props  PoolProperties

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

func newPooledDataSource(native NativeDataSource, props PoolProperties) *PooledDataSource {
	return &PooledDataSource{native: native, props: props}
}

// Native returns the bound native data source.
func (p *PooledDataSource) Native() NativeDataSource { return p.native }

// Properties returns the pool configuration.
func (p *PooledDataSource) Properties() PoolProperties { return p.props }

// DB opens the pool if needed and returns it.
func (p *PooledDataSource) DB(ctx context.Context) (*sql.DB, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	if p.db != nil {
		return p.db, nil
	}

	dsn, err := p.native.DSN()
	if err != nil {
		return nil, fmt.Errorf("failed to build connection string: %w", err)
	}
	db, err := sql.Open(p.native.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s data source: %w", p.native.DriverName(), err)
	}
	p.configure(db)

	if err := p.warmUp(ctx, db); err != nil {
		utils.Close(db)
		return nil, err
	}
	p.db = db
	return db, nil
}

func (p *PooledDataSource) configure(db *sql.DB) {
	if p.props.MaxActive > 0 {
		db.SetMaxOpenConns(p.props.MaxActive)
	}
	maxIdle := p.props.MaxIdle
	if p.props.MaxActive > 0 && maxIdle > p.props.MaxActive {
		maxIdle = p.props.MaxActive
	}
	if maxIdle >= 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if p.props.MaxAge > 0 {
		db.SetConnMaxLifetime(time.Duration(p.props.MaxAge) * time.Millisecond)
	}
	if p.props.MinEvictableIdleTime > 0 {
		db.SetConnMaxIdleTime(time.Duration(p.props.MinEvictableIdleTime) * time.Millisecond)
	}
}

// warmUp opens InitialSize connections, capped by MaxActive, and runs the
// init statement and the connect test on each.
func (p *PooledDataSource) warmUp(ctx context.Context, db *sql.DB) error {
	n := p.props.InitialSize
	if p.props.MaxActive > 0 && n > p.props.MaxActive {
		n = p.props.MaxActive
	}
	if n < 1 {
		n = 1
	}

	conns := make([]*sql.Conn, 0, n)
	defer func() {
		for _, c := range conns {
			utils.Close(c)
		}
	}()
	for i := 0; i < n; i++ {
		c, err := db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("failed to open initial connection: %w", err)
		}
		conns = append(conns, c)

		if p.props.InitSQL != "" {
			if _, err := c.ExecContext(ctx, p.props.InitSQL); err != nil {
				return fmt.Errorf("init statement failed: %w", err)
			}
		}
		if p.props.TestOnConnect {
			if err := p.validate(ctx, c); err != nil {
				return err
			}
		}
	}
	return nil
}

// Conn borrows a connection, waiting at most MaxWait and validating it when
// TestOnBorrow is set.
func (p *PooledDataSource) Conn(ctx context.Context) (*sql.Conn, error) {
	db, err := p.DB(ctx)
	if err != nil {
		return nil, err
	}
	if p.props.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.props.MaxWait)*time.Millisecond)
		defer cancel()
	}
	c, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to borrow connection: %w", err)
	}
	if p.props.TestOnBorrow {
		if err := p.validate(ctx, c); err != nil {
			utils.Close(c)
			return nil, err
		}
	}
	return c, nil
}

func (p *PooledDataSource) validate(ctx context.Context, c *sql.Conn) error {
	if p.props.ValidationQueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(p.props.ValidationQueryTimeout)*time.Second)
		defer cancel()
	}
	if p.props.ValidationQuery == "" {
		if err := c.PingContext(ctx); err != nil {
			return fmt.Errorf("connection validation failed: %w", err)
		}
		return nil
	}
	if _, err := c.ExecContext(ctx, p.props.ValidationQuery); err != nil {
		return fmt.Errorf("validation query failed: %w", err)
	}
	return nil
}

// Stats reports pool statistics, zero before the pool is opened.
func (p *PooledDataSource) Stats() sql.DBStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return sql.DBStats{}
	}
	return p.db.Stats()
}

// Close releases the pool. Later calls to DB fail with ErrPoolClosed.
func (p *PooledDataSource) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
