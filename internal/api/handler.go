package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/brfsskit/sqldraft/internal/dataset"
	"github.com/brfsskit/sqldraft/internal/dictionary"
	"github.com/brfsskit/sqldraft/internal/drafting"
	"github.com/brfsskit/sqldraft/internal/refdocs"
	"github.com/brfsskit/sqldraft/internal/storage"
	"github.com/brfsskit/sqldraft/internal/tables"
)

const (
	maxRequestBodySize = 1 << 20   // 1MB
	maxUploadBodySize  = 100 << 20 // 100MB, CSV tables and base64 reference documents
)

// CredentialHeader carries a per-request Gemini key.
const CredentialHeader = "X-Goog-Api-Key"

// NewHandler returns the HTTP API. /health is public; everything under /v1
// requires the bearer token.
func NewHandler(svc *Service, token string) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(token))

		r.Post("/drafts", handleCreateDraft(svc))
		r.Get("/drafts", handleListDrafts(svc))
		r.Get("/drafts/{id}", handleGetDraft(svc))
		r.Delete("/drafts/{id}", handleDeleteDraft(svc))

		r.Post("/info-files", handlePublishInfo(svc))
		r.Get("/info-files", handleListInfo(svc))
		r.Post("/info-files/presence", handlePresence(svc))
		r.Delete("/info-files/{year}", handleDeleteInfo(svc))

		r.Get("/datasets", handleListDatasets(svc))
		r.Post("/datasets/{year}", handleLoadDataset(svc))
		r.Delete("/datasets/{year}", handleDropDataset(svc))

		r.Post("/query", handleQuery(svc))
		r.Get("/samples", handleListSamples(svc))
		r.Post("/samples/{id}/run", handleRunSample(svc))
		r.Get("/dictionary/{year}", handleLookup(svc))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// --- Drafts ---

type draftRequest struct {
	Prompt string `json:"prompt"`
	Years  []int  `json:"years"`
	APIKey string `json:"api_key"`
}

func handleCreateDraft(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req draftRequest
		if !decodeBody(w, r, &req) {
			return
		}
		years, err := toYears(req.Years)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		out, err := svc.Draft(r.Context(), DraftInput{
			Prompt:     req.Prompt,
			Years:      years,
			Credential: firstNonEmpty(req.APIKey, r.Header.Get(CredentialHeader)),
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleListDrafts(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		drafts, err := svc.deps.Store.ListDrafts(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list drafts: %v", err)
			return
		}
		if drafts == nil {
			drafts = []storage.Draft{}
		}
		writeJSON(w, http.StatusOK, drafts)
	}
}

func handleGetDraft(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := svc.deps.Store.GetDraft(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "draft not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get draft: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func handleDeleteDraft(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := svc.deps.Store.DeleteDraft(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "draft not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete draft: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// --- Reference documents ---

type publishRequest struct {
	Year     int    `json:"year"`
	Content  string `json:"content"` // base64
	URL      string `json:"url"`
	MIMEType string `json:"mime_type"`
	Filename string `json:"filename"`
}

func handlePublishInfo(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		var req publishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		var content []byte
		if req.Content != "" {
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid base64 content")
				return
			}
			content = decoded
		}

		out, err := svc.PublishInfo(r.Context(), PublishInput{
			Year:     dataset.Year(req.Year),
			Content:  content,
			URL:      req.URL,
			MIMEType: req.MIMEType,
			Filename: req.Filename,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, out)
	}
}

func handleListInfo(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := svc.deps.Store.ListInfoDocs()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list info files: %v", err)
			return
		}
		if docs == nil {
			docs = []storage.InfoDoc{}
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

type presenceRequest struct {
	Years  []int  `json:"years"`
	APIKey string `json:"api_key"`
}

func handlePresence(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req presenceRequest
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}
		years, err := toYears(req.Years)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		report, err := svc.Presence(r.Context(), firstNonEmpty(req.APIKey, r.Header.Get(CredentialHeader)), years)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func handleDeleteInfo(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		year, ok := yearParam(w, r)
		if !ok {
			return
		}
		if err := svc.DeleteInfo(r.Context(), year, r.Header.Get(CredentialHeader)); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "no info file for %d", int(year))
				return
			}
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// --- Tables ---

func handleListDatasets(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ds, err := svc.Datasets(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list datasets: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ds)
	}
}

func handleLoadDataset(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		year, ok := yearParam(w, r)
		if !ok {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		defer r.Body.Close()

		st, err := svc.deps.Tables.LoadCSV(r.Context(), year, r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "loading %s: %v", year.TableName(), err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleDropDataset(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		year, ok := yearParam(w, r)
		if !ok {
			return
		}
		err := svc.deps.Tables.Drop(r.Context(), year)
		if errors.Is(err, tables.ErrNotLoaded) {
			httpError(w, http.StatusNotFound, "not_found", "%s is not loaded", year.TableName())
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "dropping %s: %v", year.TableName(), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "dropped"})
	}
}

type queryRequest struct {
	SQL string `json:"sql"`
}

func handleQuery(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := svc.Query(r.Context(), req.SQL)
		if err != nil {
			if errors.Is(err, ErrInvalidRequest) {
				writeServiceError(w, err)
				return
			}
			httpError(w, http.StatusBadRequest, "query_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleListSamples(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.Samples(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list samples: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func handleRunSample(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.RunSample(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "%v", err)
				return
			}
			if errors.Is(err, ErrInvalidRequest) {
				writeServiceError(w, err)
				return
			}
			httpError(w, http.StatusBadRequest, "query_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleLookup(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		year, ok := yearParam(w, r)
		if !ok {
			return
		}
		entry, err := svc.Lookup(year, r.URL.Query().Get("q"))
		switch {
		case errors.Is(err, dictionary.ErrEmptyTerm):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		case errors.Is(err, dictionary.ErrNoMatch), errors.Is(err, dictionary.ErrNoDictionary):
			httpError(w, http.StatusNotFound, "not_found", "%v", err)
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "lookup failed: %v", err)
		default:
			writeJSON(w, http.StatusOK, entry)
		}
	}
}

// --- helpers ---

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var genErr *drafting.GenerationError
	switch {
	case errors.Is(err, ErrInvalidRequest):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, refdocs.ErrMissingCredential):
		httpError(w, http.StatusBadRequest, "missing_credential", "%v", err)
	case errors.As(err, &genErr):
		httpError(w, http.StatusBadGateway, "generation_error", "%v", err)
	case errors.Is(err, drafting.ErrEmptyResponse):
		httpError(w, http.StatusBadGateway, "empty_response", "%v", err)
	default:
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func yearParam(w http.ResponseWriter, r *http.Request) (dataset.Year, bool) {
	y, err := dataset.ParseYear(chi.URLParam(r, "year"))
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return 0, false
	}
	return y, true
}

func toYears(in []int) ([]dataset.Year, error) {
	var out []dataset.Year
	for _, n := range in {
		y := dataset.Year(n)
		if !dataset.IsKnown(y) {
			return nil, fmt.Errorf("unknown survey year %d", n)
		}
		out = append(out, y)
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
