package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/brfsskit/sqldraft/internal/dataset"
	"github.com/brfsskit/sqldraft/internal/dictionary"
	"github.com/brfsskit/sqldraft/internal/drafting"
	"github.com/brfsskit/sqldraft/internal/publish"
	"github.com/brfsskit/sqldraft/internal/refdocs"
	"github.com/brfsskit/sqldraft/internal/samples"
	"github.com/brfsskit/sqldraft/internal/storage"
	"github.com/brfsskit/sqldraft/internal/tables"
)

const (
	maxInfoDocSize   = 50 << 20 // 50MB
	maxPreviewRunes  = 2000
	defaultSampleRow = 5
)

// ErrInvalidRequest marks errors caused by the caller's input.
var ErrInvalidRequest = errors.New("invalid request")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// Tables is the local analytical table catalog.
type Tables interface {
	LoadedYears(ctx context.Context) ([]dataset.Year, error)
	SampleRows(ctx context.Context, year dataset.Year, n int) ([]dataset.Row, error)
	Query(ctx context.Context, stmt string) (tables.Result, error)
	LoadCSV(ctx context.Context, year dataset.Year, r io.Reader) (tables.LoadStats, error)
	Drop(ctx context.Context, year dataset.Year) error
}

// Drafter produces SQL drafts.
type Drafter interface {
	Draft(ctx context.Context, req drafting.Request) (drafting.Result, error)
	Model() string
}

// PresenceChecker reports which reference documents exist remotely.
type PresenceChecker interface {
	Check(ctx context.Context, credential string, years []dataset.Year) (refdocs.PresenceReport, error)
}

// Dictionary looks up survey variables.
type Dictionary interface {
	Lookup(year dataset.Year, term string) (dictionary.Entry, error)
}

// FileDeleter removes remote reference documents.
type FileDeleter interface {
	DeleteFile(ctx context.Context, name string) error
}

// DeleterFunc connects a FileDeleter for a credential.
type DeleterFunc func(ctx context.Context, credential string) (FileDeleter, error)

// Deps holds the collaborators of the service. APIKey returns the configured
// Gemini key and may return "".
type Deps struct {
	Store      *storage.Store
	Tables     Tables
	Drafter    Drafter
	Presence   PresenceChecker
	Remote     DeleterFunc
	Samples    *samples.Catalog
	Dictionary Dictionary
	APIKey     func() string
	SampleRows int
	HTTPClient *http.Client
}

// Service implements the operations shared by the HTTP and MCP surfaces.
type Service struct {
	deps Deps
}

func NewService(deps Deps) *Service {
	if deps.SampleRows <= 0 {
		deps.SampleRows = defaultSampleRow
	}
	if deps.APIKey == nil {
		deps.APIKey = func() string { return "" }
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Service{deps: deps}
}

// credential picks the first non-blank of the given keys, falling back to
// the configured key.
func (s *Service) credential(keys ...string) string {
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			return k
		}
	}
	return s.deps.APIKey()
}

// --- Drafts ---

type DraftInput struct {
	Prompt     string
	Years      []dataset.Year
	Credential string
}

type DraftOutput struct {
	ID string `json:"id"`
	drafting.Result
}

// Draft drafts a query for in.Prompt and records the call in history. When
// in.Years is empty the loaded tables are used.
func (s *Service) Draft(ctx context.Context, in DraftInput) (DraftOutput, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return DraftOutput{}, invalid("prompt is required")
	}

	loaded := dataset.SortYears(in.Years)
	if len(loaded) == 0 {
		var err error
		loaded, err = s.deps.Tables.LoadedYears(ctx)
		if err != nil {
			return DraftOutput{}, fmt.Errorf("listing loaded tables: %w", err)
		}
	}

	var rows []dataset.Row
	if len(loaded) > 0 {
		var err error
		rows, err = s.deps.Tables.SampleRows(ctx, loaded[0], s.deps.SampleRows)
		if err != nil {
			slog.Debug("sample rows unavailable", "table", loaded[0].TableName(), "error", err)
			rows = nil
		}
	}

	res, err := s.deps.Drafter.Draft(ctx, drafting.Request{
		Credential:  s.credential(in.Credential),
		Prompt:      prompt,
		SampleRows:  rows,
		LoadedYears: loaded,
	})

	rec := storage.Draft{
		ID:          uuid.New().String(),
		CreatedAt:   time.Now().UTC(),
		Prompt:      prompt,
		LoadedYears: dataset.Join(loaded, ","),
		Model:       s.deps.Drafter.Model(),
		Status:      storage.DraftCompleted,
	}
	if err != nil {
		rec.Status = storage.DraftFailed
		rec.Error = err.Error()
	} else {
		rec.AttachedYears = dataset.Join(res.Meta.AttachedYears, ",")
		rec.Query = res.Query
		rec.Explanation = res.Explanation
		rec.DurationMs = res.Meta.DurationMs
	}
	if saveErr := s.deps.Store.SaveDraft(rec); saveErr != nil {
		slog.Warn("failed to record draft", "id", rec.ID, "error", saveErr)
	}

	if err != nil {
		return DraftOutput{}, err
	}
	return DraftOutput{ID: rec.ID, Result: res}, nil
}

// --- Reference documents ---

// Presence checks the remote store for the reference documents of years,
// defaulting to every year that may have one.
func (s *Service) Presence(ctx context.Context, credential string, years []dataset.Year) (refdocs.PresenceReport, error) {
	if len(years) == 0 {
		years = dataset.ReferenceYears()
	}
	return s.deps.Presence.Check(ctx, s.credential(credential), years)
}

type PublishInput struct {
	Year     dataset.Year
	Content  []byte
	URL      string
	MIMEType string
	Filename string
}

type PublishOutput struct {
	Doc   storage.InfoDoc `json:"info_doc"`
	JobID string          `json:"job_id"`
}

// PublishInfo stores a reference document for a year and queues its upload.
// The content is taken from in.Content or fetched from in.URL.
func (s *Service) PublishInfo(ctx context.Context, in PublishInput) (PublishOutput, error) {
	if !dataset.HasReference(in.Year) {
		return PublishOutput{}, invalid("year %d does not take a reference document (valid: %s)",
			int(in.Year), dataset.Join(dataset.ReferenceYears(), ", "))
	}

	content := in.Content
	if len(content) == 0 {
		if in.URL == "" {
			return PublishOutput{}, invalid("one of content or url is required")
		}
		body, ctype, err := s.fetch(ctx, in.URL)
		if err != nil {
			return PublishOutput{}, err
		}
		content = body
		if in.MIMEType == "" {
			in.MIMEType = ctype
		}
		if in.Filename == "" {
			in.Filename = in.URL
		}
	}

	mimeType := in.MIMEType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = refdocs.DetectMIME(in.Filename, content)
	}

	ex, err := refdocs.ExtractText(mimeType, content)
	if err != nil {
		slog.Warn("could not extract reference text", "year", in.Year, "mime_type", mimeType, "error", err)
	}

	doc := storage.InfoDoc{
		ID:        uuid.New().String(),
		Year:      int(in.Year),
		Filename:  in.Filename,
		MIMEType:  mimeType,
		Content:   content,
		Preview:   truncateRunes(ex.Text, maxPreviewRunes),
		Pages:     ex.Pages,
		SourceURL: in.URL,
	}
	if err := s.deps.Store.SaveInfoDoc(doc); err != nil {
		return PublishOutput{}, fmt.Errorf("saving info doc: %w", err)
	}
	jobID, err := publish.Enqueue(s.deps.Store, doc.ID)
	if err != nil {
		return PublishOutput{}, err
	}

	saved, err := s.deps.Store.GetInfoDoc(doc.ID)
	if err != nil {
		return PublishOutput{}, fmt.Errorf("reloading info doc: %w", err)
	}
	return PublishOutput{Doc: saved, JobID: jobID}, nil
}

func (s *Service) fetch(ctx context.Context, url string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", invalid("invalid url: %v", err)
	}
	resp, err := s.deps.HTTPClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetching url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("url returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInfoDocSize))
	if err != nil {
		return nil, "", fmt.Errorf("reading url response: %w", err)
	}
	ctype := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(ctype, ';'); i >= 0 {
		ctype = ctype[:i]
	}
	return body, strings.TrimSpace(ctype), nil
}

// DeleteInfo removes a year's reference document locally and, when it was
// published, remotely.
func (s *Service) DeleteInfo(ctx context.Context, year dataset.Year, credential string) error {
	doc, err := s.deps.Store.GetInfoDocByYear(int(year))
	if err != nil {
		return err
	}
	if doc.RemoteName != "" {
		remote, err := s.deps.Remote(ctx, s.credential(credential))
		if err != nil {
			return fmt.Errorf("connecting to gemini: %w", err)
		}
		if err := remote.DeleteFile(ctx, doc.RemoteName); err != nil {
			return err
		}
	}
	return s.deps.Store.DeleteInfoDoc(int(year))
}

// --- Tables ---

type DatasetStatus struct {
	Year         dataset.Year `json:"year"`
	Table        string       `json:"table"`
	Loaded       bool         `json:"loaded"`
	HasReference bool         `json:"has_reference"`
}

// Datasets reports the load state of every known year.
func (s *Service) Datasets(ctx context.Context) ([]DatasetStatus, error) {
	loaded, err := s.deps.Tables.LoadedYears(ctx)
	if err != nil {
		return nil, err
	}
	have := make(map[dataset.Year]bool, len(loaded))
	for _, y := range loaded {
		have[y] = true
	}
	var out []DatasetStatus
	for _, y := range dataset.KnownYears() {
		out = append(out, DatasetStatus{
			Year:         y,
			Table:        y.TableName(),
			Loaded:       have[y],
			HasReference: dataset.HasReference(y),
		})
	}
	return out, nil
}

func (s *Service) Query(ctx context.Context, stmt string) (tables.Result, error) {
	if strings.TrimSpace(stmt) == "" {
		return tables.Result{}, invalid("sql is required")
	}
	return s.deps.Tables.Query(ctx, stmt)
}

type SampleStatus struct {
	samples.Sample
	Runnable     bool           `json:"runnable"`
	MissingYears []dataset.Year `json:"missing_years,omitempty"`
}

// Samples lists the canned queries with their runnability against the loaded tables.
func (s *Service) Samples(ctx context.Context) ([]SampleStatus, error) {
	loaded, err := s.deps.Tables.LoadedYears(ctx)
	if err != nil {
		return nil, err
	}
	var out []SampleStatus
	for _, sm := range s.deps.Samples.All() {
		missing := sm.MissingYears(loaded)
		out = append(out, SampleStatus{Sample: sm, Runnable: len(missing) == 0, MissingYears: missing})
	}
	return out, nil
}

// RunSample executes a canned query after checking its tables are loaded.
func (s *Service) RunSample(ctx context.Context, id string) (tables.Result, error) {
	sm, ok := s.deps.Samples.Get(id)
	if !ok {
		return tables.Result{}, fmt.Errorf("sample %q: %w", id, storage.ErrNotFound)
	}
	loaded, err := s.deps.Tables.LoadedYears(ctx)
	if err != nil {
		return tables.Result{}, err
	}
	if missing := sm.MissingYears(loaded); len(missing) > 0 {
		return tables.Result{}, invalid("sample %q needs tables for %s", id, dataset.Join(missing, ", "))
	}
	return s.deps.Tables.Query(ctx, sm.SQL)
}

func (s *Service) Lookup(year dataset.Year, term string) (dictionary.Entry, error) {
	return s.deps.Dictionary.Lookup(year, term)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
