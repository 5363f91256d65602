package indexing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ledongthuc/pdf"
	ferrors "github.com/randalmurphal/ragflow/pkg/ragflow/errors"
	"golang.org/x/net/html"
)

// Extractor pulls plain text out of uploaded files.
type Extractor struct {
	// Formats lists accepted extensions without the dot. Empty accepts all
	// known formats.
	Formats []string
	// MaxSize rejects larger files when positive.
	MaxSize int64
}

// knownFormats are the extensions Extract understands.
var knownFormats = []string{"txt", "md", "markdown", "html", "htm", "pdf"}

// Supported reports whether filename has an accepted extension.
func (e Extractor) Supported(filename string) bool {
	ext := extension(filename)
	if !slices.Contains(knownFormats, ext) {
		return false
	}
	if len(e.Formats) == 0 {
		return true
	}
	if ext == "markdown" {
		ext = "md"
	}
	if ext == "htm" {
		ext = "html"
	}
	return slices.Contains(e.Formats, ext)
}

// Extract returns the normalized text of the file at path.
func (e Extractor) Extract(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !e.Supported(path) {
		return "", &ferrors.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("unsupported format %q", extension(path)),
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if e.MaxSize > 0 && info.Size() > e.MaxSize {
		return "", &ferrors.ValidationError{
			Field:   "file",
			Message: fmt.Sprintf("size %d exceeds limit %d", info.Size(), e.MaxSize),
		}
	}

	var text string
	switch extension(path) {
	case "pdf":
		text, err = extractPDF(path)
	case "html", "htm":
		text, err = extractHTMLFile(path)
	default:
		var b []byte
		b, err = os.ReadFile(path)
		text = string(b)
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", filepath.Base(path), err)
	}
	return normalizeText(text), nil
}

func extension(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

func extractPDF(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func extractHTMLFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return extractHTML(f)
}

// blockTags end a line of text.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "header": true, "footer": true, "pre": true,
	"blockquote": true, "table": true, "ul": true, "ol": true,
}

// extractHTML returns the visible text of an HTML document.
func extractHTML(r io.Reader) (string, error) {
	z := html.NewTokenizer(r)
	var b strings.Builder
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return b.String(), nil
			}
			return "", z.Err()
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" || tag == "noscript" {
				skip++
			}
			if blockTags[tag] {
				b.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style" || tag == "noscript") && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				b.WriteString("\n\n")
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.Join(strings.Fields(string(z.Text())), " ")
			if text == "" {
				continue
			}
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteString(" ")
			}
			b.WriteString(text)
		}
	}
}
