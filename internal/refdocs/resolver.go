package refdocs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/brfsskit/sqldraft/internal/dataset"
	"github.com/brfsskit/sqldraft/internal/gemini"
)

// ErrNoLocation is reported for a remote entry that exists but carries no URI.
var ErrNoLocation = errors.New("reference document has no uri")

// FileGetter looks up one remote document by name.
type FileGetter interface {
	GetFile(ctx context.Context, name string) (gemini.File, error)
}

// Handle is a resolved reference document ready to be attached to a
// generation request.
type Handle struct {
	Year     dataset.Year `json:"year"`
	URI      string       `json:"uri"`
	MIMEType string       `json:"mime_type"`
}

// Part converts the handle into a generation request part.
func (h Handle) Part() gemini.Part {
	return gemini.FilePart(h.URI, h.MIMEType)
}

// Resolver finds the reference documents of the loaded survey years.
type Resolver struct {
	years []dataset.Year
	limit int
}

// NewResolver creates a Resolver over dataset.ReferenceYears. limit bounds
// concurrent lookups; <= 0 means one goroutine per target year.
func NewResolver(limit int) *Resolver {
	return &Resolver{years: dataset.ReferenceYears(), limit: limit}
}

// lookupOutcome is the status-tagged result of one per-year lookup.
type lookupOutcome struct {
	year   dataset.Year
	handle Handle
	err    error
}

// Resolve fetches a handle for every loaded year that may have a reference
// document. Lookups run concurrently and fail independently; failed years
// are dropped without error. handles and attached are in completion order.
func (r *Resolver) Resolve(ctx context.Context, store FileGetter, loaded []dataset.Year) (handles []Handle, attached []dataset.Year) {
	targets := r.targets(loaded)
	if len(targets) == 0 {
		return nil, nil
	}

	outcomes := make(chan lookupOutcome, len(targets))
	var g errgroup.Group
	if r.limit > 0 {
		g.SetLimit(r.limit)
	}
	for _, year := range targets {
		g.Go(func() error {
			h, err := lookup(ctx, store, year)
			outcomes <- lookupOutcome{year: year, handle: h, err: err}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(outcomes)
	}()

	for o := range outcomes {
		if o.err != nil {
			slog.Debug("reference lookup failed", "year", int(o.year), "error", o.err)
			continue
		}
		handles = append(handles, o.handle)
		attached = append(attached, o.year)
	}
	return handles, attached
}

// targets intersects loaded with the reference years, in reference order.
func (r *Resolver) targets(loaded []dataset.Year) []dataset.Year {
	var out []dataset.Year
	for _, y := range r.years {
		if slices.Contains(loaded, y) {
			out = append(out, y)
		}
	}
	return out
}

func lookup(ctx context.Context, store FileGetter, year dataset.Year) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	f, err := store.GetFile(ctx, year.ReferenceName())
	if err != nil {
		return Handle{}, err
	}
	if f.URI == "" {
		return Handle{}, fmt.Errorf("%s: %w", year.ReferenceName(), ErrNoLocation)
	}
	return Handle{Year: year, URI: f.URI, MIMEType: f.MIMEType}, nil
}
