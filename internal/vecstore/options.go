package vecstore

// DefaultTopK is the number of matches returned when WithTopK is not given.
const DefaultTopK = 8

type searchOptions struct {
	topK          int
	minSimilarity float64
	filter        map[string]any
}

// SearchOption customizes a Search call.
type SearchOption func(*searchOptions)

// WithTopK limits the number of matches returned.
func WithTopK(k int) SearchOption {
	return func(o *searchOptions) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithMinSimilarity drops matches below the given cosine similarity.
func WithMinSimilarity(min float64) SearchOption {
	return func(o *searchOptions) {
		o.minSimilarity = min
	}
}

// WithFilter restricts matches to chunks whose metadata contains all the
// given key/value pairs (jsonb containment).
func WithFilter(filter map[string]any) SearchOption {
	return func(o *searchOptions) {
		if len(filter) > 0 {
			o.filter = filter
		}
	}
}

func applyOptions(opts []SearchOption) searchOptions {
	o := searchOptions{topK: DefaultTopK}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
