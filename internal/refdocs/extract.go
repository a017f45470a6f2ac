package refdocs

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Extracted is the readable text of a reference document.
type Extracted struct {
	MIMEType string
	Text     string
	Pages    int
}

// DetectMIME picks a MIME type from the file extension, falling back to
// content sniffing.
func DetectMIME(filename string, data []byte) string {
	if ext := filepath.Ext(filename); ext != "" {
		if t := mime.TypeByExtension(strings.ToLower(ext)); t != "" {
			return stripParams(t)
		}
	}
	return stripParams(http.DetectContentType(data))
}

func stripParams(t string) string {
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}

// ExtractText returns the plain text of a PDF, HTML or text document.
// Other types are returned with empty text.
func ExtractText(mimeType string, data []byte) (Extracted, error) {
	out := Extracted{MIMEType: mimeType}
	switch {
	case mimeType == "application/pdf":
		text, pages, err := pdfText(data)
		if err != nil {
			return out, err
		}
		out.Text, out.Pages = text, pages
	case mimeType == "text/html":
		text, err := htmlText(data)
		if err != nil {
			return out, err
		}
		out.Text = text
	case strings.HasPrefix(mimeType, "text/"):
		out.Text = string(data)
	}
	return out, nil
}

func pdfText(data []byte) (string, int, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", 0, fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", 0, fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", 0, fmt.Errorf("reading pdf text: %w", err)
	}
	return strings.TrimSpace(buf.String()), r.NumPage(), nil
}

func htmlText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}
	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "head") {
			return
		}
		if n.Type == html.TextNode {
			if s := strings.Join(strings.Fields(n.Data), " "); s != "" {
				lines = append(lines, s)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(lines, "\n"), nil
}
