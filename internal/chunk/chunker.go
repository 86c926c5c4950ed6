// Package chunk splits extracted document text into overlapping,
// token-bounded chunks for embedding. Splitting respects paragraph and
// sentence boundaries where possible and only falls back to hard word
// splits for pathological run-on text.
package chunk

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

var (
	// ErrInvalidConfig indicates chunking parameters that cannot produce
	// valid chunks.
	ErrInvalidConfig = errors.New("invalid chunking configuration")
)

// Config controls chunk sizing. All values are token counts.
type Config struct {
	TargetTokens  int // preferred chunk size
	MaxTokens     int // hard upper bound, no chunk exceeds this
	OverlapTokens int // trailing context carried into the next chunk
}

// DefaultConfig returns the sizing used in production.
func DefaultConfig() Config {
	return Config{
		TargetTokens:  400,
		MaxTokens:     512,
		OverlapTokens: 50,
	}
}

func (c Config) validate() error {
	if c.TargetTokens <= 0 {
		return fmt.Errorf("%w: target tokens must be positive", ErrInvalidConfig)
	}
	if c.MaxTokens < c.TargetTokens {
		return fmt.Errorf("%w: max tokens %d below target %d", ErrInvalidConfig, c.MaxTokens, c.TargetTokens)
	}
	if c.OverlapTokens < 0 || c.OverlapTokens >= c.TargetTokens {
		return fmt.Errorf("%w: overlap %d must be in [0, target)", ErrInvalidConfig, c.OverlapTokens)
	}
	return nil
}

// Chunk is one embedding-ready slice of a document.
type Chunk struct {
	ID         string // deterministic, stable across reindexing
	Index      int    // position within the document, 0-based
	Content    string
	TokenCount int
}

// Chunker splits document text according to its Config.
//
// Chunker is safe for concurrent use by multiple goroutines.
type Chunker struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Chunker. Returns ErrInvalidConfig for unusable sizing.
func New(cfg Config, logger *slog.Logger) (*Chunker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{cfg: cfg, logger: logger}, nil
}

// sentenceBoundary matches the gap after a sentence-ending punctuation mark.
var sentenceBoundary = regexp.MustCompile(`([.!?]["')\]]*)\s+`)

// Split breaks text into chunks. Chunk IDs derive from docID and the chunk
// index, so re-splitting identical text yields identical IDs. Empty or
// whitespace-only text yields no chunks.
func (c *Chunker) Split(docID, text string) []Chunk {
	segments := c.segment(text)
	if len(segments) == 0 {
		return nil
	}

	var (
		chunks  []Chunk
		current []segment
		total   int
		fresh   int // segments in current not carried over as overlap
	)

	flush := func() {
		content := joinSegments(current)
		chunks = append(chunks, Chunk{
			ID:         chunkID(docID, len(chunks)),
			Index:      len(chunks),
			Content:    content,
			TokenCount: CountTokens(content),
		})
		current = c.overlapTail(current)
		total = 0
		fresh = 0
		for _, s := range current {
			total += s.tokens
		}
	}

	for _, seg := range segments {
		if fresh > 0 && total+seg.tokens > c.cfg.TargetTokens {
			flush()
		}
		// Carried overlap plus an oversized segment must not break the
		// hard cap; drop the overlap rather than the cap.
		if fresh == 0 && total+seg.tokens > c.cfg.MaxTokens {
			current = current[:0]
			total = 0
		}
		current = append(current, seg)
		total += seg.tokens
		fresh++
	}
	if fresh > 0 {
		flush()
	}

	c.logger.Debug("split document",
		"doc_id", docID,
		"chunks", len(chunks),
		"segments", len(segments))
	return chunks
}

// segment holds one indivisible unit of text with its token cost.
type segment struct {
	text   string
	tokens int
}

// segment splits text into sentence-level segments, hard-splitting any
// sentence whose token count exceeds MaxTokens.
func (c *Chunker) segment(text string) []segment {
	var segs []segment
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		for _, sentence := range splitSentences(para) {
			tokens := CountTokens(sentence)
			if tokens <= c.cfg.MaxTokens {
				segs = append(segs, segment{text: sentence, tokens: tokens})
				continue
			}
			segs = append(segs, c.hardSplit(sentence)...)
		}
	}
	return segs
}

// splitSentences divides a paragraph at sentence boundaries, keeping the
// terminating punctuation with the sentence.
func splitSentences(para string) []string {
	marked := sentenceBoundary.ReplaceAllString(para, "$1\x00")
	parts := strings.Split(marked, "\x00")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// hardSplit breaks a single oversized sentence at word boundaries. Per-word
// token counts over-estimate the joined count slightly, which keeps each
// piece safely under MaxTokens.
func (c *Chunker) hardSplit(sentence string) []segment {
	words := strings.Fields(sentence)
	var (
		segs  []segment
		buf   []string
		total int
	)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		text := strings.Join(buf, " ")
		segs = append(segs, segment{text: text, tokens: CountTokens(text)})
		buf = buf[:0]
		total = 0
	}
	for _, w := range words {
		wt := CountTokens(" " + w)
		if total > 0 && total+wt > c.cfg.MaxTokens {
			flush()
		}
		buf = append(buf, w)
		total += wt
	}
	flush()
	return segs
}

// overlapTail returns the trailing segments of a finished chunk whose token
// sum fits within OverlapTokens.
func (c *Chunker) overlapTail(segs []segment) []segment {
	if c.cfg.OverlapTokens == 0 {
		return nil
	}
	total := 0
	start := len(segs)
	for i := len(segs) - 1; i >= 0; i-- {
		if total+segs[i].tokens > c.cfg.OverlapTokens {
			break
		}
		total += segs[i].tokens
		start = i
	}
	return append([]segment(nil), segs[start:]...)
}

func joinSegments(segs []segment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = s.text
	}
	return strings.Join(parts, " ")
}

func chunkID(docID string, index int) string {
	return fmt.Sprintf("%s:%04d", docID, index)
}
