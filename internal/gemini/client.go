package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// DefaultModel is the generation model used when none is configured.
const DefaultModel = "gemini-2.5-flash"

// ErrMissingAPIKey is returned by Dial when no API key is supplied. The SDK
// would otherwise fall back to GOOGLE_API_KEY from the environment.
var ErrMissingAPIKey = errors.New("gemini api key is required")

// File is a document held by the Gemini Files API.
type File struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	URI         string `json:"uri,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
	State       string `json:"state,omitempty"`
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// Part is one element of a generation request: either text or a reference
// to an uploaded file.
type Part struct {
	Text     string
	FileURI  string
	MIMEType string
}

// TextPart returns a text part.
func TextPart(s string) Part { return Part{Text: s} }

// FilePart returns a part referencing an uploaded file.
func FilePart(uri, mimeType string) Part { return Part{FileURI: uri, MIMEType: mimeType} }

func (p Part) toGenAI() *genai.Part {
	if p.FileURI != "" {
		return genai.NewPartFromURI(p.FileURI, p.MIMEType)
	}
	return genai.NewPartFromText(p.Text)
}

// Client talks to the Gemini API through the genai SDK. A Client is bound to
// one API key; callers holding per-request credentials dial one per call.
type Client struct {
	genai *genai.Client
}

// Option customises the SDK configuration used by Dial.
type Option func(*genai.ClientConfig)

// WithBaseURL points the client at a custom endpoint (for testing).
func WithBaseURL(baseURL string) Option {
	return func(cfg *genai.ClientConfig) {
		if baseURL == "" {
			return
		}
		cfg.HTTPOptions.BaseURL = strings.TrimRight(baseURL, "/") + "/"
	}
}

// WithHTTPClient overrides the HTTP client used by the SDK.
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *genai.ClientConfig) {
		cfg.HTTPClient = c
	}
}

// Dial creates a Client for apiKey.
func Dial(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	c, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Client{genai: c}, nil
}

// Generate sends parts as a single user turn and returns the flattened text
// of the response. Provider errors are returned unwrapped.
func (c *Client) Generate(ctx context.Context, model string, parts []Part) (string, error) {
	if model == "" {
		model = DefaultModel
	}
	gp := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		gp = append(gp, p.toGenAI())
	}
	contents := []*genai.Content{genai.NewContentFromParts(gp, genai.RoleUser)}

	resp, err := c.genai.Models.GenerateContent(ctx, model, contents, nil)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// GetFile looks up a file by name ("2019-info" or "files/2019-info").
func (c *Client) GetFile(ctx context.Context, name string) (File, error) {
	f, err := c.genai.Files.Get(ctx, name, nil)
	if err != nil {
		return File{}, fmt.Errorf("getting file %s: %w", name, err)
	}
	return fromGenAI(f), nil
}

// ListFiles fetches one page of files. An empty next token means the
// listing is exhausted.
func (c *Client) ListFiles(ctx context.Context, pageSize int, pageToken string) ([]File, string, error) {
	page, err := c.genai.Files.List(ctx, &genai.ListFilesConfig{
		PageSize:  int32(pageSize),
		PageToken: pageToken,
	})
	if err != nil {
		return nil, "", err
	}
	files := make([]File, 0, len(page.Items))
	for _, f := range page.Items {
		files = append(files, fromGenAI(f))
	}
	return files, page.NextPageToken, nil
}

// UploadFile stores r on the Files API under name.
func (c *Client) UploadFile(ctx context.Context, r io.Reader, name, displayName, mimeType string) (File, error) {
	f, err := c.genai.Files.Upload(ctx, r, &genai.UploadFileConfig{
		Name:        name,
		DisplayName: displayName,
		MIMEType:    mimeType,
	})
	if err != nil {
		return File{}, fmt.Errorf("uploading file %s: %w", name, err)
	}
	return fromGenAI(f), nil
}

// DeleteFile removes a file by name.
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	if _, err := c.genai.Files.Delete(ctx, name, nil); err != nil {
		return fmt.Errorf("deleting file %s: %w", name, err)
	}
	return nil
}

func fromGenAI(f *genai.File) File {
	if f == nil {
		return File{}
	}
	out := File{
		Name:        f.Name,
		DisplayName: f.DisplayName,
		URI:         f.URI,
		MIMEType:    f.MIMEType,
		State:       string(f.State),
	}
	if f.SizeBytes != nil {
		out.SizeBytes = *f.SizeBytes
	}
	return out
}

// Connector dials a Client per credential. BaseURL and HTTPClient apply to
// every dialled client.
type Connector struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Connect dials a Client for credential.
func (c Connector) Connect(ctx context.Context, credential string) (*Client, error) {
	var opts []Option
	if c.BaseURL != "" {
		opts = append(opts, WithBaseURL(c.BaseURL))
	}
	if c.HTTPClient != nil {
		opts = append(opts, WithHTTPClient(c.HTTPClient))
	}
	return Dial(ctx, credential, opts...)
}
