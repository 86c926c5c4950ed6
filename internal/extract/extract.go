// Package extract converts uploaded documents into plain text suitable for
// chunking and embedding. Each supported format has a dedicated extractor;
// unsupported formats are rejected with ErrUnsupportedFormat.
package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// ErrUnsupportedFormat indicates the document format has no extractor.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrEmptyDocument indicates the document contained no extractable text.
	ErrEmptyDocument = errors.New("document contains no extractable text")

	// ErrDocumentTooLarge indicates the input exceeds MaxDocumentBytes.
	ErrDocumentTooLarge = errors.New("document exceeds size limit")
)

// MaxDocumentBytes is the maximum accepted input size (10 MB).
const MaxDocumentBytes = 10 << 20

// Format identifies a supported document format.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
)

// Document is the result of text extraction.
type Document struct {
	Text   string // Extracted plain text
	Title  string // Best-effort title (may be empty)
	Format Format // Detected format
	Bytes  int    // Original input size
}

// Extractor converts raw document bytes into plain text.
//
// Extractor is safe for concurrent use by multiple goroutines.
type Extractor struct {
	logger *slog.Logger
}

// New creates an Extractor.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// formatForExtension maps a lowercase file extension (without dot) to a Format.
var formatForExtension = map[string]Format{
	"txt":      FormatText,
	"text":     FormatText,
	"md":       FormatMarkdown,
	"markdown": FormatMarkdown,
	"html":     FormatHTML,
	"htm":      FormatHTML,
	"csv":      FormatCSV,
	"json":     FormatJSON,
}

// DetectFormat resolves a filename to a Format.
// Returns ErrUnsupportedFormat for unknown extensions.
func DetectFormat(filename string) (Format, error) {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 || idx == len(filename)-1 {
		return "", fmt.Errorf("%w: %q has no extension", ErrUnsupportedFormat, filename)
	}
	ext := strings.ToLower(filename[idx+1:])
	f, ok := formatForExtension[ext]
	if !ok {
		return "", fmt.Errorf("%w: .%s", ErrUnsupportedFormat, ext)
	}
	return f, nil
}

// Extract converts raw bytes of the given format into a Document.
func (e *Extractor) Extract(raw []byte, format Format) (*Document, error) {
	if len(raw) > MaxDocumentBytes {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrDocumentTooLarge, len(raw), MaxDocumentBytes)
	}

	var (
		text  string
		title string
		err   error
	)

	switch format {
	case FormatText, FormatMarkdown:
		text = sanitizeText(string(raw))
		title = firstLineTitle(text)
	case FormatHTML:
		text, title, err = e.extractHTML(raw)
	case FormatCSV:
		text, err = extractCSV(raw)
	case FormatJSON:
		text, err = extractJSON(raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyDocument
	}

	e.logger.Debug("extracted document",
		"format", format,
		"input_bytes", len(raw),
		"text_chars", len(text))

	return &Document{
		Text:   text,
		Title:  title,
		Format: format,
		Bytes:  len(raw),
	}, nil
}

// ExtractFile resolves the format from the filename and extracts.
func (e *Extractor) ExtractFile(filename string, raw []byte) (*Document, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}
	return e.Extract(raw, format)
}

// sanitizeText strips invalid UTF-8 and non-printable control characters
// (newlines and tabs are preserved).
func sanitizeText(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// firstLineTitle returns the first non-empty line, trimmed of markdown
// heading markers, capped at 200 chars. Used as a fallback title.
func firstLineTitle(text string) string {
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "# ")
		if line == "" {
			continue
		}
		if len(line) > 200 {
			line = line[:200]
		}
		return line
	}
	return ""
}

// normalizeWhitespace collapses runs of blank lines into a single blank line.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := false
	for _, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, trimmed)
	}
	return strings.Join(out, "\n")
}
