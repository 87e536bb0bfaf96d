// Package naming builds pooled SQL data sources from declarative
// definitions and keeps them in a context where they are looked up by name.
package naming

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql
	_ "modernc.org/sqlite"
)

var (
	ErrClassNotFound = errors.New("naming: data source class not found")
	ErrInstantiation = errors.New("naming: data source class could not be instantiated")
	ErrNameNotBound  = errors.New("naming: name not bound")
	ErrNameBound     = errors.New("naming: name already bound")
)

// NativeDataSource is a driver-specific data source whose exported fields are
// set from properties before it is handed to a pool.
type NativeDataSource interface {
	// DriverName is the database/sql driver the source opens.
	DriverName() string
	// DSN renders the connection string from the bound fields.
	DSN() (string, error)
}

// BaseDataSource carries the properties every native class accepts.
type BaseDataSource struct {
	User         string `bind:"user"`
	Password     string `bind:"password"`
	LoginTimeout int    `bind:"loginTimeout"` // seconds
	Description  string `bind:"description"`
}

// SQLiteDataSource opens a file (or in-memory) database with the pure Go
// SQLite driver.
type SQLiteDataSource struct {
	BaseDataSource
	URL          string `bind:"url"`
	DatabaseName string `bind:"databaseName"`
	JournalMode  string `bind:"journalMode"`
	BusyTimeout  int    `bind:"busyTimeout"` // milliseconds
	ForeignKeys  bool   `bind:"foreignKeys"`
	ReadOnly     bool   `bind:"readOnly"`
}

func (d *SQLiteDataSource) DriverName() string { return "sqlite" }

func (d *SQLiteDataSource) DSN() (string, error) {
	path := d.DatabaseName
	if path == "" {
		path = strings.TrimPrefix(d.URL, "jdbc:sqlite:")
	}
	if path == "" {
		return "", errors.New("sqlite data source needs databaseName or url")
	}

	var pragmas []string
	if d.JournalMode != "" {
		pragmas = append(pragmas, "journal_mode("+d.JournalMode+")")
	}
	if d.BusyTimeout > 0 {
		pragmas = append(pragmas, "busy_timeout("+strconv.Itoa(d.BusyTimeout)+")")
	}
	if d.ForeignKeys {
		pragmas = append(pragmas, "foreign_keys(1)")
	}
	if d.ReadOnly {
		pragmas = append(pragmas, "query_only(1)")
	}
	if len(pragmas) == 0 {
		return path, nil
	}

	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode(), nil
}

// PGDataSource connects to PostgreSQL through pgx.
type PGDataSource struct {
	BaseDataSource
	ServerName      string `bind:"serverName"`
	PortNumber      int    `bind:"portNumber"`
	DatabaseName    string `bind:"databaseName"`
	SSLMode         string `bind:"sslMode"`
	ApplicationName string `bind:"applicationName"`
	CurrentSchema   string `bind:"currentSchema"`
}

func (d *PGDataSource) DriverName() string { return "pgx" }

func (d *PGDataSource) DSN() (string, error) {
	host := d.ServerName
	if host == "" {
		host = "localhost"
	}
	port := d.PortNumber
	if port == 0 {
		port = 5432
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + d.DatabaseName,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}

	q := url.Values{}
	if d.SSLMode != "" {
		q.Set("sslmode", d.SSLMode)
	}
	if d.ApplicationName != "" {
		q.Set("application_name", d.ApplicationName)
	}
	if d.CurrentSchema != "" {
		q.Set("search_path", d.CurrentSchema)
	}
	if d.LoginTimeout > 0 {
		q.Set("connect_timeout", strconv.Itoa(d.LoginTimeout))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Constructor builds a fresh, unbound native data source.
type Constructor func() NativeDataSource

var (
	classesMu sync.RWMutex
	classes   = map[string]Constructor{}
)

// RegisterClass makes a native data source available under a class name.
func RegisterClass(name string, ctor Constructor) {
	classesMu.Lock()
	defer classesMu.Unlock()
	classes[name] = ctor
}

// Classes lists the registered class names.
func Classes() []string {
	classesMu.RLock()
	defer classesMu.RUnlock()
	out := make([]string, 0, len(classes))
	for name := range classes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func lookupClass(name string) (Constructor, bool) {
	classesMu.RLock()
	defer classesMu.RUnlock()
	ctor, ok := classes[name]
	return ctor, ok
}

// instantiate runs ctor, turning a panic or a nil result into
// ErrInstantiation.
func instantiate(name string, ctor Constructor) (ds NativeDataSource, err error) {
	defer func() {
		if r := recover(); r != nil {
			ds = nil
			err = fmt.Errorf("%w: %s: %v", ErrInstantiation, name, r)
		}
	}()
	ds = ctor()
	if ds == nil {
		return nil, fmt.Errorf("%w: %s returned nil", ErrInstantiation, name)
	}
	return ds, nil
}

func init() {
	RegisterClass("org.sqlite.SQLiteDataSource", func() NativeDataSource { return &SQLiteDataSource{} })
	RegisterClass("org.postgresql.ds.PGSimpleDataSource", func() NativeDataSource { return &PGDataSource{} })
}
