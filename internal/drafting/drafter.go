package drafting

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/brfsskit/sqldraft/internal/dataset"
	"github.com/brfsskit/sqldraft/internal/gemini"
	"github.com/brfsskit/sqldraft/internal/refdocs"
)

// ErrEmptyResponse is returned when the model produced no usable text.
var ErrEmptyResponse = errors.New("gemini did not return any text")

// GenerationError wraps a transport or API failure of the generation call.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string { return "gemini error: " + e.Err.Error() }

func (e *GenerationError) Unwrap() error { return e.Err }

// Backend is the remote side of a drafting call: a document store for
// reference lookups and a text generator.
type Backend interface {
	refdocs.FileGetter
	Generate(ctx context.Context, model string, parts []gemini.Part) (string, error)
}

// ConnectFunc returns a Backend authorised by credential.
type ConnectFunc func(ctx context.Context, credential string) (Backend, error)

// GeminiConnector adapts a gemini.Connector to a ConnectFunc.
func GeminiConnector(c gemini.Connector) ConnectFunc {
	return func(ctx context.Context, credential string) (Backend, error) {
		client, err := c.Connect(ctx, credential)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Request is the input of one drafting call. LoadedYears is authoritative:
// the drafter does not check that those tables exist.
type Request struct {
	Credential  string
	Prompt      string
	SampleRows  []dataset.Row
	LoadedYears []dataset.Year
}

// Result is the structured output of a drafting call.
type Result struct {
	Query       string   `json:"query"`
	Explanation string   `json:"explanation"`
	Meta        Metadata `json:"meta"`
}

// Metadata captures diagnostic information about a drafting call.
type Metadata struct {
	AttachedYears []dataset.Year `json:"attached_years"`
	Model         string         `json:"model"`
	DurationMs    int64          `json:"duration_ms"`
}

// Options tunes a Drafter. Zero values select defaults.
type Options struct {
	Model             string
	Dialect           string
	Timeout           time.Duration
	LookupConcurrency int
}

// Drafter turns a natural-language request into a SQL draft.
type Drafter struct {
	connect  ConnectFunc
	resolver *refdocs.Resolver
	model    string
	dialect  string
	timeout  time.Duration
}

// NewDrafter creates a Drafter that dials a backend per call.
func NewDrafter(connect ConnectFunc, opts Options) *Drafter {
	if opts.Model == "" {
		opts.Model = gemini.DefaultModel
	}
	if opts.Dialect == "" {
		opts.Dialect = DefaultDialect
	}
	return &Drafter{
		connect:  connect,
		resolver: refdocs.NewResolver(opts.LookupConcurrency),
		model:    opts.Model,
		dialect:  opts.Dialect,
		timeout:  opts.Timeout,
	}
}

// Model returns the generation model identity.
func (d *Drafter) Model() string { return d.model }

// Draft runs one drafting call:
//  1. Render sample rows and the available table list
//  2. Resolve reference documents for the loaded years (missing ones are skipped)
//  3. Assemble the prompt and send it with the reference parts
//  4. Parse the reply into query and explanation
//
// Errors are either a *GenerationError or ErrEmptyResponse; no partial
// result accompanies an error.
func (d *Drafter) Draft(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	sampleText := RenderSampleRows(req.SampleRows)
	tables := RenderTables(req.LoadedYears)

	backend, err := d.connect(ctx, req.Credential)
	if err != nil {
		return Result{}, &GenerationError{Err: err}
	}

	handles, attached := d.resolver.Resolve(ctx, backend, req.LoadedYears)
	note := RenderReferenceNote(attached)

	prompt := BuildPrompt(PromptInput{
		Dialect:       d.dialect,
		Tables:        tables,
		ReferenceNote: note,
		SampleText:    sampleText,
		UserPrompt:    req.Prompt,
	})

	parts := make([]gemini.Part, 0, len(handles)+2)
	for _, h := range handles {
		parts = append(parts, h.Part())
	}
	parts = append(parts, gemini.TextPart(note), gemini.TextPart(prompt))

	genCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	text, err := backend.Generate(genCtx, d.model, parts)
	if err != nil {
		return Result{}, &GenerationError{Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyResponse
	}

	query, explanation := ParseResponse(text)
	if query == "" {
		return Result{}, ErrEmptyResponse
	}

	meta := Metadata{
		AttachedYears: dataset.SortYears(attached),
		Model:         d.model,
		DurationMs:    time.Since(start).Milliseconds(),
	}
	slog.Debug("draft complete",
		"attached_years", dataset.Join(meta.AttachedYears, ","),
		"sample_rows", min(len(req.SampleRows), MaxSampleRows),
		"duration_ms", meta.DurationMs,
	)

	return Result{Query: query, Explanation: explanation, Meta: meta}, nil
}
