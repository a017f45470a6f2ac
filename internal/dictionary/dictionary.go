// Package dictionary looks up survey variables in the per-year data
// dictionaries shipped as CSV files.
package dictionary

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/brfsskit/sqldraft/internal/dataset"
)

var (
	ErrEmptyTerm    = errors.New("enter a variable name to search")
	ErrNoDictionary = errors.New("no data dictionary for that year")
	ErrNoMatch      = errors.New("no match found in that year's dictionary")
)

// Entry is one dictionary row. Columns other than the well-known ones are
// kept in Extra.
type Entry struct {
	Year           dataset.Year      `json:"year"`
	ColumnName     string            `json:"column_name"`
	Description    string            `json:"description,omitempty"`
	ColumnType     string            `json:"column_type,omitempty"`
	PossibleValues string            `json:"possible_values,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// Dictionary reads {dir}/{year}_datadict.csv on first use and caches it.
type Dictionary struct {
	dir string

	mu    sync.RWMutex
	cache map[dataset.Year][]Entry
	group singleflight.Group
}

// New creates a Dictionary rooted at dir.
func New(dir string) *Dictionary {
	return &Dictionary{dir: dir, cache: make(map[dataset.Year][]Entry)}
}

// Path returns the dictionary file for year.
func (d *Dictionary) Path(year dataset.Year) string {
	return filepath.Join(d.dir, fmt.Sprintf("%d_datadict.csv", int(year)))
}

// Lookup finds term in the dictionary for year: an exact case-insensitive
// column name match wins, otherwise the first column containing term.
func (d *Dictionary) Lookup(year dataset.Year, term string) (Entry, error) {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return Entry{}, ErrEmptyTerm
	}
	entries, err := d.entries(year)
	if err != nil {
		return Entry{}, err
	}
	for _, e := range entries {
		if strings.ToLower(e.ColumnName) == term {
			return e, nil
		}
	}
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.ColumnName), term) {
			return e, nil
		}
	}
	return Entry{}, ErrNoMatch
}

func (d *Dictionary) entries(year dataset.Year) ([]Entry, error) {
	d.mu.RLock()
	cached, ok := d.cache[year]
	d.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v, err, _ := d.group.Do(year.String(), func() (any, error) {
		f, err := os.Open(d.Path(year))
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%d: %w", int(year), ErrNoDictionary)
		}
		if err != nil {
			return nil, fmt.Errorf("opening dictionary: %w", err)
		}
		defer f.Close()

		entries, err := Parse(year, f)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", filepath.Base(f.Name()), err)
		}
		d.mu.Lock()
		d.cache[year] = entries
		d.mu.Unlock()
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Entry), nil
}

// Parse reads a dictionary CSV with a header row. Blank rows are skipped.
func Parse(year dataset.Year, r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff")))
	}

	var entries []Entry
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		e := Entry{Year: year}
		blank := true
		for i, v := range rec {
			if i >= len(header) {
				break
			}
			if strings.TrimSpace(v) != "" {
				blank = false
			}
			switch header[i] {
			case "column_name":
				e.ColumnName = strings.TrimSpace(v)
			case "description":
				e.Description = v
			case "column_type":
				e.ColumnType = v
			case "possible_values":
				e.PossibleValues = v
			default:
				if v == "" {
					continue
				}
				if e.Extra == nil {
					e.Extra = make(map[string]string)
				}
				e.Extra[header[i]] = v
			}
		}
		if !blank {
			entries = append(entries, e)
		}
	}
	return entries, nil
}
