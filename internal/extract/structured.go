package extract

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// extractCSV renders CSV records as "header: value" lines, one block per
// record, so the semantics survive chunking (a raw CSV row without its
// header is meaningless to retrieval).
func extractCSV(raw []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1 // tolerate ragged rows

	records, err := r.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parsing CSV: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}

	header := records[0]
	if len(records) == 1 {
		return strings.Join(header, ", "), nil
	}

	var b strings.Builder
	for _, record := range records[1:] {
		for i, field := range record {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			if i < len(header) {
				b.WriteString(strings.TrimSpace(header[i]))
				b.WriteString(": ")
			}
			b.WriteString(field)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return sanitizeText(b.String()), nil
}

// extractJSON flattens a JSON document into "path: value" lines sorted by
// path, which embeds far better than raw JSON syntax.
func extractJSON(raw []byte) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("parsing JSON: %w", err)
	}

	lines := make(map[string]string)
	flattenJSON("", v, lines)

	paths := make([]string, 0, len(lines))
	for p := range lines {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		b.WriteString(p)
		b.WriteString(": ")
		b.WriteString(lines[p])
		b.WriteString("\n")
	}
	return sanitizeText(b.String()), nil
}

// flattenJSON walks the decoded value, recording scalar leaves by dotted path.
func flattenJSON(prefix string, v any, out map[string]string) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			flattenJSON(p, child, out)
		}
	case []any:
		for i, child := range val {
			flattenJSON(prefix+"["+strconv.Itoa(i)+"]", child, out)
		}
	case string:
		if strings.TrimSpace(val) != "" {
			out[keyOrRoot(prefix)] = val
		}
	case float64:
		out[keyOrRoot(prefix)] = strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		out[keyOrRoot(prefix)] = strconv.FormatBool(val)
	case nil:
		// skip nulls
	}
}

func keyOrRoot(prefix string) string {
	if prefix == "" {
		return "value"
	}
	return prefix
}
