package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosaichq/mosaic/internal/log"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		filename string
		want     Format
		wantErr  bool
	}{
		{"report.txt", FormatText, false},
		{"README.md", FormatMarkdown, false},
		{"page.HTML", FormatHTML, false},
		{"members.csv", FormatCSV, false},
		{"config.json", FormatJSON, false},
		{"archive.zip", "", true},
		{"noextension", "", true},
		{"trailing.", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, err := DetectFormat(tt.filename)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_Text(t *testing.T) {
	e := New(log.NewNop())

	doc, err := e.Extract([]byte("# Quarterly Report\n\nRevenue grew 12%."), FormatMarkdown)
	require.NoError(t, err)

	assert.Equal(t, "Quarterly Report", doc.Title)
	assert.Contains(t, doc.Text, "Revenue grew 12%.")
	assert.Equal(t, FormatMarkdown, doc.Format)
}

func TestExtract_EmptyDocument(t *testing.T) {
	e := New(log.NewNop())

	_, err := e.Extract([]byte("   \n\t  "), FormatText)
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestExtract_TooLarge(t *testing.T) {
	e := New(log.NewNop())

	big := make([]byte, MaxDocumentBytes+1)
	_, err := e.Extract(big, FormatText)
	assert.ErrorIs(t, err, ErrDocumentTooLarge)
}

func TestExtract_StripsControlCharacters(t *testing.T) {
	e := New(log.NewNop())

	doc, err := e.Extract([]byte("hello\x00world\nnext\tline"), FormatText)
	require.NoError(t, err)

	assert.Equal(t, "helloworld\nnext\tline", doc.Text)
}

func TestExtract_HTML(t *testing.T) {
	e := New(log.NewNop())

	html := `<!DOCTYPE html>
<html><head><title>Onboarding Guide</title><script>alert(1)</script></head>
<body>
<nav>Home | About</nav>
<article>
<h1>Onboarding Guide</h1>
<p>Welcome to the team. This guide explains how new members get matched with
mentors during their first week, including how profile questionnaires feed the
matching engine and what to expect from introductions.</p>
<p>Matches are refreshed weekly based on shared interests and goals, so keep
your profile current as your projects change over time.</p>
</article>
</body></html>`

	doc, err := e.Extract([]byte(html), FormatHTML)
	require.NoError(t, err)

	assert.Contains(t, doc.Text, "Welcome to the team")
	assert.NotContains(t, doc.Text, "alert(1)")
}

func TestExtract_HTMLFragmentFallback(t *testing.T) {
	e := New(log.NewNop())

	doc, err := e.Extract([]byte("<div><p>Just a fragment of text.</p></div>"), FormatHTML)
	require.NoError(t, err)
	assert.Contains(t, doc.Text, "Just a fragment of text.")
}

func TestExtract_CSV(t *testing.T) {
	e := New(log.NewNop())

	csv := "name,role,location\nAda,Engineer,London\nGrace,Admiral,Arlington\n"
	doc, err := e.Extract([]byte(csv), FormatCSV)
	require.NoError(t, err)

	assert.Contains(t, doc.Text, "name: Ada")
	assert.Contains(t, doc.Text, "role: Admiral")
	assert.Contains(t, doc.Text, "location: London")
}

func TestExtract_CSVRaggedRows(t *testing.T) {
	e := New(log.NewNop())

	csv := "a,b\n1,2,3\n4\n"
	doc, err := e.Extract([]byte(csv), FormatCSV)
	require.NoError(t, err)
	assert.Contains(t, doc.Text, "a: 1")
	assert.Contains(t, doc.Text, "a: 4")
}

func TestExtract_JSON(t *testing.T) {
	e := New(log.NewNop())

	raw := `{"team":{"name":"platform","size":7},"tags":["go","rag"],"active":true}`
	doc, err := e.Extract([]byte(raw), FormatJSON)
	require.NoError(t, err)

	assert.Contains(t, doc.Text, "team.name: platform")
	assert.Contains(t, doc.Text, "team.size: 7")
	assert.Contains(t, doc.Text, "tags[0]: go")
	assert.Contains(t, doc.Text, "active: true")
}

func TestExtract_InvalidJSON(t *testing.T) {
	e := New(log.NewNop())

	_, err := e.Extract([]byte("{not json"), FormatJSON)
	require.Error(t, err)
}

func TestNormalizeWhitespace(t *testing.T) {
	in := "line one\n\n\n\nline two   \n\t\nline three"
	out := normalizeWhitespace(in)
	assert.Equal(t, "line one\n\nline two\n\nline three", out)
	assert.False(t, strings.Contains(out, "\n\n\n"))
}
