package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type recordedRequest struct {
	Method      string
	Path        string
	Body        string
	Auth        string
	ContentType string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			Body:        body.String(),
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) lastRequest(t *testing.T) recordedRequest {
	t.Helper()
	if len(ts.requests) == 0 {
		t.Fatal("no requests recorded")
	}
	return ts.requests[len(ts.requests)-1]
}

var ctx = context.Background()

// execute runs the root command against ts and returns what it wrote to stdout.
func execute(t *testing.T, ts *testServer, args ...string) (string, error) {
	t.Helper()

	prevClient := newAPIClient
	prevColor := noColor
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	noColor = true

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		newAPIClient = prevClient
		noColor = prevColor
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores every flag to its default so one test's flags do not
// leak into the next Execute.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestLoadCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/datasets/2019": `{"year":2019,"table":"brfss_2019","rows":2,"columns":1}`,
	})
	csvPath := filepath.Join(t.TempDir(), "LLCP2019.csv")
	if err := os.WriteFile(csvPath, []byte("_STATE\n1\n2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, ts, "load", "2019", csvPath); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := ts.lastRequest(t)
	if r.Method != "POST" || r.Path != "/v1/datasets/2019" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.ContentType != "text/csv" {
		t.Errorf("content type = %q, want text/csv", r.ContentType)
	}
	if r.Body != "_STATE\n1\n2\n" {
		t.Errorf("body = %q", r.Body)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
}

func TestLoadCommand_BadYear(t *testing.T) {
	ts := newTestServer(t, nil)
	if _, err := execute(t, ts, "load", "1999", "x.csv"); err == nil {
		t.Fatal("expected error for unknown year")
	}
	if len(ts.requests) != 0 {
		t.Errorf("expected no requests, got %d", len(ts.requests))
	}
}

func TestMissingArgs(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, args := range [][]string{
		{"load", "2019"},
		{"draft"},
		{"run"},
		{"dict", "2019"},
		{"info", "upload"},
		{"samples", "run"},
	} {
		_, err := execute(t, ts, args...)
		if err == nil {
			t.Errorf("%v: expected error for missing args", args)
			continue
		}
		if !strings.Contains(err.Error(), "arg") {
			t.Errorf("%v: error = %q, want it to mention args", args, err.Error())
		}
	}
}

func TestDatasetsList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/datasets": `[
			{"year":2016,"table":"brfss_2016","loaded":true,"has_reference":true},
			{"year":2023,"table":"brfss_2023","loaded":false,"has_reference":false}
		]`,
	})

	out, err := execute(t, ts, "datasets", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", out)
	}
	if !strings.Contains(lines[0], "brfss_2016") || !strings.Contains(lines[0], "loaded") || !strings.Contains(lines[0], "codebook") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], "not loaded") || strings.Contains(lines[1], "codebook") {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestDraftCommand_WithRun(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/drafts": `{"id":"d-1","query":"SELECT _STATE, COUNT(*) AS n FROM brfss_2023 GROUP BY _STATE;","explanation":"Counts by state.","meta":{"attached_years":[],"model":"gemini-2.5-flash","duration_ms":12}}`,
		"POST /v1/query":  `{"columns":["_STATE","n"],"rows":[[1,10],[2,null]]}`,
	})

	out, err := execute(t, ts, "draft", "--years", "2023", "--run", "count", "by", "state")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(ts.requests))
	}
	var draftBody map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &draftBody); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if draftBody["prompt"] != "count by state" {
		t.Errorf("prompt = %v", draftBody["prompt"])
	}
	if diff := cmp.Diff([]any{float64(2023)}, draftBody["years"]); diff != "" {
		t.Errorf("years mismatch (-want +got):\n%s", diff)
	}
	if _, ok := draftBody["api_key"]; ok {
		t.Error("api_key should be omitted when not given")
	}

	var queryBody map[string]string
	if err := json.Unmarshal([]byte(ts.requests[1].Body), &queryBody); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if !strings.HasPrefix(queryBody["sql"], "SELECT _STATE") {
		t.Errorf("sql = %q", queryBody["sql"])
	}

	for _, want := range []string{"SELECT _STATE", "Counts by state.", "model gemini-2.5-flash", "codebooks: none", "(2 rows)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDraftCommand_ServerError(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":{"message":"model request failed","type":"generation_error"}}`))
	})

	_, err := execute(t, ts, "draft", "anything")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "model request failed") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestRunCommand_CSV(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/query": `{"columns":["a","b"],"rows":[[1,"x"],[null,2.5]]}`,
	})
	csvPath := filepath.Join(t.TempDir(), "out.csv")

	out, err := execute(t, ts, "run", "--csv", csvPath, "SELECT", "a,", "b", "FROM", "t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "" {
		t.Errorf("expected nothing on stdout, got %q", out)
	}

	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if diff := cmp.Diff("a,b\n1,x\n,2.5\n", string(data)); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}

	var body map[string]string
	json.Unmarshal([]byte(ts.lastRequest(t).Body), &body)
	if body["sql"] != "SELECT a, b FROM t" {
		t.Errorf("sql = %q", body["sql"])
	}
}

func TestPresenceCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/info-files/presence": `{"statuses":{"2018":true,"2019":false},"found_years":[2018]}`,
	})

	out, err := execute(t, ts, "presence", "--years", "2019,2018", "--api-key", "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body map[string]any
	json.Unmarshal([]byte(ts.lastRequest(t).Body), &body)
	if body["api_key"] != "k" {
		t.Errorf("api_key = %v", body["api_key"])
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", out)
	}
	if !strings.HasPrefix(lines[0], "2018") || !strings.Contains(lines[0], "present") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "2019") || !strings.Contains(lines[1], "missing") {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestInfoUpload_File(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/info-files": `{"info_doc":{"id":"i-1","year":2019,"filename":"codebook.txt","mime_type":"text/plain","status":"pending"},"job_id":"j-1"}`,
	})
	path := filepath.Join(t.TempDir(), "codebook.txt")
	if err := os.WriteFile(path, []byte("_STATE state code"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, ts, "info", "upload", "2019", "--file", path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.lastRequest(t).Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["year"] != float64(2019) || body["filename"] != "codebook.txt" {
		t.Errorf("body = %v", body)
	}
	decoded, err := base64.StdEncoding.DecodeString(body["content"].(string))
	if err != nil || string(decoded) != "_STATE state code" {
		t.Errorf("content = %q (%v)", decoded, err)
	}
	if _, ok := body["url"]; ok {
		t.Error("url should be omitted for file uploads")
	}
}

func TestInfoUpload_RequiresOneSource(t *testing.T) {
	ts := newTestServer(t, nil)
	if _, err := execute(t, ts, "info", "upload", "2019"); err == nil {
		t.Error("expected error without --file or --url")
	}
	if _, err := execute(t, ts, "info", "upload", "2019", "--file", "a", "--url", "https://example.com/x"); err == nil {
		t.Error("expected error with both --file and --url")
	}
	if len(ts.requests) != 0 {
		t.Errorf("expected no requests, got %d", len(ts.requests))
	}
}

func TestInfoList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/info-files": `[
			{"year":2016,"filename":"codebook16.pdf","status":"published"},
			{"year":2017,"filename":"codebook17.pdf","status":"failed","error":"upload rejected"}
		]`,
	})

	out, err := execute(t, ts, "info", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "codebook16.pdf") || !strings.Contains(out, "failed: upload rejected") {
		t.Errorf("output = %q", out)
	}
}

func TestSamplesListAndRun(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/samples": `[
			{"id":"state-counts-2023","label":"Respondents by state","runnable":true},
			{"id":"tbi-prevalence-2016-to-2020","label":"TBI prevalence","runnable":false,"missing_years":[2016,2017]}
		]`,
		"POST /v1/samples/state-counts-2023/run": `{"columns":["n"],"rows":[[5]]}`,
	})

	out, err := execute(t, ts, "samples", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "needs brfss_2016, brfss_2017") {
		t.Errorf("output = %q", out)
	}
	if strings.Count(out, "needs") != 1 {
		t.Errorf("only the unrunnable sample should list missing tables:\n%s", out)
	}

	out, err = execute(t, ts, "samples", "run", "state-counts-2023")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "(1 row)") {
		t.Errorf("output = %q", out)
	}
}

func TestDraftsList(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/drafts": `[
			{"id":"0123456789abcdef","created_at":"2024-03-01T10:00:00Z","prompt":"count by state","status":"completed"},
			{"id":"fedcba9876543210","created_at":"2024-03-02T11:30:00Z","prompt":"bad one","status":"failed"}
		]`,
	})

	out, err := execute(t, ts, "drafts", "list", "--limit", "5", "--offset", "10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p := ts.lastRequest(t).Path; p != "/v1/drafts?limit=5&offset=10" {
		t.Errorf("path = %q", p)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", out)
	}
	if !strings.HasPrefix(lines[0], "01234567  2024-03-01 10:00  count by state") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], "failed") {
		t.Errorf("line 1 = %q", lines[1])
	}
}

func TestDraftsList_Empty(t *testing.T) {
	ts := newTestServer(t, map[string]string{"GET /v1/drafts": `[]`})
	out, err := execute(t, ts, "drafts", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != "No drafts found." {
		t.Errorf("output = %q", out)
	}
}

func TestDraftsDelete_NotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	_, err := execute(t, ts, "drafts", "delete", "missing")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestDictCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/dictionary/2019": `{"year":2019,"column_name":"_STATE","description":"State FIPS code","possible_values":"1-72"}`,
	})

	out, err := execute(t, ts, "dict", "2019", "state fips")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p := ts.lastRequest(t).Path; p != "/v1/dictionary/2019?q=state+fips" {
		t.Errorf("path = %q", p)
	}
	for _, want := range []string{"_STATE", "Description: State FIPS code", "Values: 1-72"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Type:") {
		t.Errorf("empty type should be omitted:\n%s", out)
	}
}

func TestDecodeJSON_ErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, nil)
	resp, err := ts.client().get(ctx, "/nowhere")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = decodeJSON(resp, nil)
	if err == nil || err.Error() != "server returned 404: not found" {
		t.Errorf("err = %v", err)
	}
}

func TestReadSecret(t *testing.T) {
	got, err := readSecret(strings.NewReader("  AIza-key \n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "AIza-key" {
		t.Errorf("got %q", got)
	}

	if _, err := readSecret(strings.NewReader("\n")); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestRenderResult(t *testing.T) {
	prev := noColor
	noColor = true
	defer func() { noColor = prev }()

	var buf bytes.Buffer
	renderResult(&buf, []string{"_STATE", "n"}, [][]string{{"1", "10"}, {"22", ""}}, true)

	want := " _STATE │ n  \n" +
		"────────┼────\n" +
		" 1      │ 10 \n" +
		" 22     │    \n" +
		"(2 rows) truncated\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("render mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderResult_NoColumns(t *testing.T) {
	prev := noColor
	noColor = true
	defer func() { noColor = prev }()

	var buf bytes.Buffer
	renderResult(&buf, nil, nil, false)
	if buf.String() != "(no columns)\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestPad(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"ab", 4, "ab  "},
		{"abcd", 4, "abcd"},
		{"abcdef", 4, "abc…"},
		{"ééé", 4, "ééé "},
	}
	for _, tt := range tests {
		if got := pad(tt.in, tt.width); got != tt.want {
			t.Errorf("pad(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

func TestCountLabel(t *testing.T) {
	if got := countLabel(3, 100); got != "3" {
		t.Errorf("countLabel(3) = %q", got)
	}
	if got := countLabel(100, 100); got != "100+" {
		t.Errorf("countLabel(100) = %q", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	if parseLogLevel("DEBUG").String() != "DEBUG" {
		t.Error("debug not parsed")
	}
	if parseLogLevel("bogus").String() != "INFO" {
		t.Error("unknown level should default to info")
	}
}
