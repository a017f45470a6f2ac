package tables

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/brfsskit/sqldraft/internal/dataset"
)

// LoadStats summarises one loaded table.
type LoadStats struct {
	Year    dataset.Year `json:"year"`
	Table   string       `json:"table"`
	Rows    int          `json:"rows"`
	Columns int          `json:"columns"`
}

type columnType int

const (
	colInteger columnType = iota
	colReal
	colText
)

func (t columnType) sqlType() string {
	switch t {
	case colInteger:
		return "INTEGER"
	case colReal:
		return "REAL"
	default:
		return "TEXT"
	}
}

// parsedTable is a CSV file read into memory with inferred column types.
type parsedTable struct {
	columns []string
	types   []columnType
	records [][]string
}

// LoadCSV replaces the table for year with the contents of a CSV file whose
// first record is the header. Column types are inferred: a column whose
// non-empty cells all parse as integers is INTEGER, as numbers REAL, else
// TEXT. Empty cells become NULL.
func (c *Catalog) LoadCSV(ctx context.Context, year dataset.Year, r io.Reader) (LoadStats, error) {
	if !dataset.IsKnown(year) {
		return LoadStats{}, fmt.Errorf("unknown survey year %d", int(year))
	}
	pt, err := parseCSV(r)
	if err != nil {
		return LoadStats{}, fmt.Errorf("parsing %s: %w", year.TableName(), err)
	}
	return c.store(ctx, year, pt)
}

// LoadDir loads every brfss_{year}.csv file found in dir. Files are parsed
// concurrently and written one at a time.
func (c *Catalog) LoadDir(ctx context.Context, dir string) ([]LoadStats, error) {
	var years []dataset.Year
	for _, y := range dataset.KnownYears() {
		if _, err := os.Stat(filepath.Join(dir, y.TableName()+".csv")); err == nil {
			years = append(years, y)
		}
	}
	if len(years) == 0 {
		return nil, nil
	}

	parsed := make([]*parsedTable, len(years))
	g, gctx := errgroup.WithContext(ctx)
	for i, y := range years {
		g.Go(func() error {
			f, err := os.Open(filepath.Join(dir, y.TableName()+".csv"))
			if err != nil {
				return err
			}
			defer f.Close()
			pt, err := parseCSV(f)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", f.Name(), err)
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			parsed[i] = pt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := make([]LoadStats, 0, len(years))
	for i, y := range years {
		st, err := c.store(ctx, y, parsed[i])
		if err != nil {
			return stats, err
		}
		slog.Info("loaded survey table", "table", st.Table, "rows", st.Rows, "columns", st.Columns)
		stats = append(stats, st)
	}
	return stats, nil
}

func parseCSV(r io.Reader) (*parsedTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("missing header row")
	}
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	pt := &parsedTable{columns: columnNames(header)}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		pt.records = append(pt.records, rec)
	}
	pt.types = inferTypes(len(pt.columns), pt.records)
	return pt, nil
}

// columnNames trims header cells, fills blanks and disambiguates duplicates.
func columnNames(header []string) []string {
	seen := make(map[string]int, len(header))
	out := make([]string, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		key := strings.ToLower(name)
		if n := seen[key]; n > 0 {
			name = fmt.Sprintf("%s_%d", name, n+1)
		}
		seen[key]++
		out[i] = name
	}
	return out
}

func inferTypes(n int, records [][]string) []columnType {
	types := make([]columnType, n)
	for col := range n {
		t := colInteger
		for _, rec := range records {
			if col >= len(rec) {
				continue
			}
			cell := strings.TrimSpace(rec[col])
			if cell == "" {
				continue
			}
			if t == colInteger {
				if _, err := strconv.ParseInt(cell, 10, 64); err == nil {
					continue
				}
				t = colReal
			}
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				t = colText
				break
			}
		}
		types[col] = t
	}
	return types
}

func (pt *parsedTable) value(col int, rec []string) any {
	if col >= len(rec) {
		return nil
	}
	cell := strings.TrimSpace(rec[col])
	if cell == "" {
		return nil
	}
	switch pt.types[col] {
	case colInteger:
		v, _ := strconv.ParseInt(cell, 10, 64)
		return v
	case colReal:
		v, _ := strconv.ParseFloat(cell, 64)
		return v
	default:
		return rec[col]
	}
}

func (c *Catalog) store(ctx context.Context, year dataset.Year, pt *parsedTable) (LoadStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	table := quoteIdent(year.TableName())
	defs := make([]string, len(pt.columns))
	for i, col := range pt.columns {
		defs[i] = quoteIdent(col) + " " + pt.types[i].sqlType()
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return LoadStats{}, fmt.Errorf("beginning load of %s: %w", year.TableName(), err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return LoadStats{}, fmt.Errorf("dropping %s: %w", year.TableName(), err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", table, strings.Join(defs, ", "))); err != nil {
		return LoadStats{}, fmt.Errorf("creating %s: %w", year.TableName(), err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(pt.columns)), ",")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", table, placeholders))
	if err != nil {
		return LoadStats{}, fmt.Errorf("preparing insert into %s: %w", year.TableName(), err)
	}
	defer stmt.Close()

	args := make([]any, len(pt.columns))
	for _, rec := range pt.records {
		for i := range pt.columns {
			args[i] = pt.value(i, rec)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return LoadStats{}, fmt.Errorf("inserting into %s: %w", year.TableName(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return LoadStats{}, fmt.Errorf("committing %s: %w", year.TableName(), err)
	}
	return LoadStats{Year: year, Table: year.TableName(), Rows: len(pt.records), Columns: len(pt.columns)}, nil
}
