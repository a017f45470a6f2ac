package tables

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/brfsskit/sqldraft/internal/dataset"
)

// ErrNotLoaded is returned when a survey table has not been loaded.
var ErrNotLoaded = errors.New("table not loaded")

// MaxQueryRows caps the rows returned by Query; Result.Truncated reports the cut.
const MaxQueryRows = 10000

// Catalog holds the yearly survey tables in a local SQLite database.
type Catalog struct {
	db *sql.DB
	// mu serialises schema changes against reads. Query runs read-only.
	mu sync.RWMutex
}

// OpenCatalog opens (or creates) the table database in dataDir. Pass
// ":memory:" for a throwaway catalog.
func OpenCatalog(dataDir string) (*Catalog, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "tables.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening table database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and avoids lock contention.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging table database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}

// LoadedYears returns the years whose table exists, ascending.
func (c *Catalog) LoadedYears(ctx context.Context) ([]dataset.Year, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'brfss\_%' ESCAPE '\'`)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	defer rows.Close()

	var years []dataset.Year
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if y, ok := dataset.TableFromName(name); ok {
			years = append(years, y)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return dataset.SortYears(years), nil
}

// IsLoaded reports whether the table for year exists.
func (c *Catalog) IsLoaded(ctx context.Context, year dataset.Year) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exists(ctx, year)
}

func (c *Catalog) exists(ctx context.Context, year dataset.Year) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, year.TableName()).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", year.TableName(), err)
	}
	return n > 0, nil
}

// SampleRows returns the first n rows of the table for year.
func (c *Catalog) SampleRows(ctx context.Context, year dataset.Year, n int) ([]dataset.Row, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ok, err := c.exists(ctx, year)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", year.TableName(), ErrNotLoaded)
	}

	res, err := c.query(ctx, c.db, fmt.Sprintf("SELECT * FROM %s LIMIT ?", quoteIdent(year.TableName())), n)
	if err != nil {
		return nil, err
	}
	out := make([]dataset.Row, 0, len(res.Rows))
	for _, r := range res.Rows {
		row := make(dataset.Row, len(res.Columns))
		for i, col := range res.Columns {
			row[col] = r[i]
		}
		out = append(out, row)
	}
	return out, nil
}

// Result is the tabular outcome of a query.
type Result struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

// Query runs a read statement and returns at most MaxQueryRows rows. The
// connection is switched to query_only for the call, so statements that
// would change the schema or the data fail instead of bypassing mu.
func (c *Catalog) Query(ctx context.Context, stmt string) (Result, error) {
	if strings.TrimSpace(stmt) == "" {
		return Result{}, errors.New("empty query")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return Result{}, fmt.Errorf("entering read-only mode: %w", err)
	}
	defer conn.ExecContext(context.Background(), "PRAGMA query_only = OFF")

	return c.query(ctx, conn, stmt)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (c *Catalog) query(ctx context.Context, q queryer, stmt string, args ...any) (Result, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return Result{}, fmt.Errorf("running query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("reading columns: %w", err)
	}

	res := Result{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if len(res.Rows) == MaxQueryRows {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, fmt.Errorf("scanning row: %w", err)
		}
		for i, v := range vals {
			vals[i] = normalize(v)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterating rows: %w", err)
	}
	return res, nil
}

// Drop removes the table for year.
func (c *Catalog) Drop(ctx context.Context, year dataset.Year) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok, err := c.exists(ctx, year)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", year.TableName(), ErrNotLoaded)
	}
	if _, err := c.db.ExecContext(ctx, "DROP TABLE "+quoteIdent(year.TableName())); err != nil {
		return fmt.Errorf("dropping %s: %w", year.TableName(), err)
	}
	return nil
}

// normalize converts driver values into JSON-friendly ones. Non-finite
// floats, which encoding/json rejects, become their string form.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case float64:
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return fmt.Sprint(t)
		}
		return t
	default:
		return t
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
