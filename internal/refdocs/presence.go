package refdocs

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/brfsskit/sqldraft/internal/dataset"
	"github.com/brfsskit/sqldraft/internal/gemini"
)

// ErrMissingCredential is returned by Checker.Check when no API key is given.
var ErrMissingCredential = errors.New("gemini API key required to check files")

// listPageSize is the page size requested from the Files API.
const listPageSize = 100

// FileLister pages through the remote document store.
type FileLister interface {
	ListFiles(ctx context.Context, pageSize int, pageToken string) ([]gemini.File, string, error)
}

// PresenceReport records which reference documents exist remotely.
type PresenceReport struct {
	Statuses   map[dataset.Year]bool `json:"statuses"`
	FoundYears []dataset.Year        `json:"found_years"`
}

// ListerFunc connects a FileLister for a credential.
type ListerFunc func(ctx context.Context, credential string) (FileLister, error)

// GeminiLister adapts a gemini.Connector to a ListerFunc.
func GeminiLister(c gemini.Connector) ListerFunc {
	return func(ctx context.Context, credential string) (FileLister, error) {
		client, err := c.Connect(ctx, credential)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Checker answers presence questions against the remote store.
type Checker struct {
	connect ListerFunc
}

// NewChecker creates a Checker that dials a lister per call.
func NewChecker(connect ListerFunc) *Checker {
	return &Checker{connect: connect}
}

// Check lists every remote document visible to credential and reports, per
// requested year, whether its reference document is present. Any listing
// failure aborts the whole check.
func (c *Checker) Check(ctx context.Context, credential string, years []dataset.Year) (PresenceReport, error) {
	if strings.TrimSpace(credential) == "" {
		return PresenceReport{}, ErrMissingCredential
	}
	lister, err := c.connect(ctx, credential)
	if err != nil {
		return PresenceReport{}, fmt.Errorf("listing gemini files: %w", err)
	}
	return CheckPresence(ctx, lister, years)
}

// CheckPresence runs the presence check against an already connected lister.
func CheckPresence(ctx context.Context, lister FileLister, years []dataset.Year) (PresenceReport, error) {
	expected := make(map[dataset.Year]string, len(years))
	for _, y := range years {
		expected[y] = strings.ToLower(y.ReferenceName())
	}

	found := make(map[dataset.Year]bool, len(years))
	token := ""
	for page := 0; ; page++ {
		files, next, err := lister.ListFiles(ctx, listPageSize, token)
		if err != nil {
			if page == 0 {
				return PresenceReport{}, fmt.Errorf("listing gemini files: %w", err)
			}
			return PresenceReport{}, fmt.Errorf("iterating gemini files: %w", err)
		}
		for _, f := range files {
			display := strings.ToLower(f.DisplayName)
			name := strings.ToLower(f.Name)
			for y, want := range expected {
				if display == want || strings.HasSuffix(name, want) {
					found[y] = true
				}
			}
		}
		if next == "" {
			break
		}
		token = next
	}

	report := PresenceReport{
		Statuses:   make(map[dataset.Year]bool, len(years)),
		FoundYears: []dataset.Year{},
	}
	for _, y := range years {
		report.Statuses[y] = found[y]
		if found[y] && !slices.Contains(report.FoundYears, y) {
			report.FoundYears = append(report.FoundYears, y)
		}
	}
	return report, nil
}
