package drafting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/brfsskit/sqldraft/internal/dataset"
	"github.com/brfsskit/sqldraft/internal/gemini"
)

// --- mock backend ---

type mockBackend struct {
	mu         sync.Mutex
	files      map[string]gemini.File
	getCalls   []string
	genModel   string
	genParts   []gemini.Part
	genCalls   int
	generateFn func(ctx context.Context) (string, error)
}

func (m *mockBackend) GetFile(_ context.Context, name string) (gemini.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls = append(m.getCalls, name)
	f, ok := m.files[name]
	if !ok {
		return gemini.File{}, fmt.Errorf("%s not found", name)
	}
	return f, nil
}

func (m *mockBackend) Generate(ctx context.Context, model string, parts []gemini.Part) (string, error) {
	m.mu.Lock()
	m.genCalls++
	m.genModel = model
	m.genParts = parts
	m.mu.Unlock()
	if m.generateFn != nil {
		return m.generateFn(ctx)
	}
	return "SQL:\nSELECT 1\n\nEXPLANATION:\nOne.", nil
}

func replying(text string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return text, nil }
}

func connectTo(b *mockBackend) ConnectFunc {
	return func(context.Context, string) (Backend, error) { return b, nil }
}

func refFile(y dataset.Year) gemini.File {
	return gemini.File{Name: "files/" + y.ReferenceName(), URI: "https://files.example/" + y.ReferenceName(), MIMEType: "text/plain"}
}

// --- tests ---

func TestDraft_RoundTrip(t *testing.T) {
	b := &mockBackend{generateFn: replying("SQL:\n  SELECT _STATE, COUNT(*) FROM brfss_2023 GROUP BY 1  \n\nEXPLANATION:\n  Respondents per state.  ")}
	d := NewDrafter(connectTo(b), Options{})

	res, err := d.Draft(context.Background(), Request{
		Credential:  "key",
		Prompt:      "Count respondents by state",
		LoadedYears: []dataset.Year{2023},
	})
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if res.Query != "SELECT _STATE, COUNT(*) FROM brfss_2023 GROUP BY 1" {
		t.Errorf("Query = %q", res.Query)
	}
	if res.Explanation != "Respondents per state." {
		t.Errorf("Explanation = %q", res.Explanation)
	}
	if res.Meta.Model != gemini.DefaultModel {
		t.Errorf("Model = %q, want %q", res.Meta.Model, gemini.DefaultModel)
	}
	if b.genModel != "gemini-2.5-flash" {
		t.Errorf("generation model = %q", b.genModel)
	}
	if len(b.getCalls) != 0 {
		t.Errorf("lookups = %v, want none for 2023", b.getCalls)
	}
}

func TestDraft_PartsOrderAndNote(t *testing.T) {
	b := &mockBackend{files: map[string]gemini.File{
		"2018-info": refFile(2018),
		"2019-info": refFile(2019),
	}}
	d := NewDrafter(connectTo(b), Options{})

	res, err := d.Draft(context.Background(), Request{
		Credential:  "key",
		Prompt:      "Compare smoking across years",
		SampleRows:  []dataset.Row{{"_SMOKER3": 1}},
		LoadedYears: []dataset.Year{2019, 2018, 2020},
	})
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if diff := cmp.Diff([]dataset.Year{2018, 2019}, res.Meta.AttachedYears); diff != "" {
		t.Errorf("AttachedYears mismatch (-want +got):\n%s", diff)
	}

	parts := b.genParts
	if len(parts) != 4 {
		t.Fatalf("parts = %d, want 4 (2 files, note, prompt)", len(parts))
	}
	for _, p := range parts[:2] {
		if p.FileURI == "" || p.Text != "" {
			t.Errorf("expected file part first, got %+v", p)
		}
	}
	wantNote := "Info files attached for: 2018-info, 2019-info. Use these for column descriptions and value meanings."
	if parts[2].Text != wantNote {
		t.Errorf("note part = %q, want %q", parts[2].Text, wantNote)
	}

	prompt := parts[3].Text
	for _, want := range []string{
		"Available tables (one per year): brfss_2018, brfss_2019, brfss_2020",
		wantNote,
		`1. {"_SMOKER3":1}`,
		"User request: Compare smoking across years",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestDraft_NoReferenceDocs(t *testing.T) {
	b := &mockBackend{}
	d := NewDrafter(connectTo(b), Options{})

	res, err := d.Draft(context.Background(), Request{Credential: "key", Prompt: "p", LoadedYears: []dataset.Year{2017}})
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if len(res.Meta.AttachedYears) != 0 {
		t.Errorf("AttachedYears = %v, want none", res.Meta.AttachedYears)
	}
	if len(b.genParts) != 2 {
		t.Fatalf("parts = %d, want 2", len(b.genParts))
	}
	if b.genParts[0].Text != "No info files attached. If available, rely on sample rows and table names." {
		t.Errorf("note part = %q", b.genParts[0].Text)
	}
	if !strings.Contains(b.genParts[1].Text, "Sample rows not provided.") {
		t.Error("prompt does not carry the sample placeholder")
	}
}

func TestDraft_TransportError(t *testing.T) {
	b := &mockBackend{generateFn: func(context.Context) (string, error) {
		return "", errors.New("429 quota exhausted")
	}}
	d := NewDrafter(connectTo(b), Options{})

	res, err := d.Draft(context.Background(), Request{Credential: "key", Prompt: "p"})
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want *GenerationError", err)
	}
	if err.Error() != "gemini error: 429 quota exhausted" {
		t.Errorf("err = %q", err.Error())
	}
	if errors.Is(err, ErrEmptyResponse) {
		t.Error("transport error must not match ErrEmptyResponse")
	}
	if res.Query != "" || res.Explanation != "" {
		t.Errorf("partial result returned alongside error: %+v", res)
	}
	if b.genCalls != 1 {
		t.Errorf("generate calls = %d, want exactly 1 (no retry)", b.genCalls)
	}
}

func TestDraft_ConnectErrorIsTransportError(t *testing.T) {
	d := NewDrafter(func(context.Context, string) (Backend, error) {
		return nil, gemini.ErrMissingAPIKey
	}, Options{})

	_, err := d.Draft(context.Background(), Request{Prompt: "p"})
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("err = %v, want *GenerationError", err)
	}
	if !errors.Is(err, gemini.ErrMissingAPIKey) {
		t.Errorf("err = %v, want it to wrap ErrMissingAPIKey", err)
	}
}

func TestDraft_EmptyResponse(t *testing.T) {
	for _, reply := range []string{"", "   \n\t", "```", "```sql\n```"} {
		b := &mockBackend{generateFn: replying(reply)}
		d := NewDrafter(connectTo(b), Options{})

		_, err := d.Draft(context.Background(), Request{Credential: "key", Prompt: "p"})
		if !errors.Is(err, ErrEmptyResponse) {
			t.Errorf("reply %q: err = %v, want ErrEmptyResponse", reply, err)
		}
		var genErr *GenerationError
		if errors.As(err, &genErr) {
			t.Errorf("reply %q: empty output reported as transport error", reply)
		}
	}
}

func TestDraft_MalformedReplyFallsBack(t *testing.T) {
	b := &mockBackend{generateFn: replying("SELECT * FROM brfss_2016 LIMIT 10")}
	d := NewDrafter(connectTo(b), Options{})

	res, err := d.Draft(context.Background(), Request{Credential: "key", Prompt: "p"})
	if err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if res.Query != "SELECT * FROM brfss_2016 LIMIT 10" || res.Explanation != "" {
		t.Errorf("result = %+v", res)
	}
}

func TestDraft_Options(t *testing.T) {
	b := &mockBackend{}
	d := NewDrafter(connectTo(b), Options{Model: "gemini-test", Dialect: "SQLite"})

	if _, err := d.Draft(context.Background(), Request{Credential: "key", Prompt: "p"}); err != nil {
		t.Fatalf("Draft: %v", err)
	}
	if b.genModel != "gemini-test" {
		t.Errorf("model = %q, want gemini-test", b.genModel)
	}
	if !strings.Contains(b.genParts[len(b.genParts)-1].Text, "writing SQLite SQL only") {
		t.Error("prompt does not use the configured dialect")
	}
}

func TestDraft_TimeoutAppliesToGeneration(t *testing.T) {
	b := &mockBackend{generateFn: func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	d := NewDrafter(connectTo(b), Options{Timeout: 20 * time.Millisecond})

	_, err := d.Draft(context.Background(), Request{Credential: "key", Prompt: "p"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}
