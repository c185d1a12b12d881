package retrieval

import "fmt"

// Default chunking parameters, in runes.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 50
)

// Chunker splits text into fixed-size rune windows where consecutive
// windows share Overlap runes.
type Chunker struct {
	Size    int
	Overlap int
}

// Span is one window of a document. Start and End are rune offsets,
// End exclusive.
type Span struct {
	Start int
	End   int
	Text  string
}

// Validate rejects parameters that would not make progress.
func (c Chunker) Validate() error {
	if c.Size < 1 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Size)
	}
	if c.Overlap < 0 || c.Overlap >= c.Size {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", c.Size, c.Overlap)
	}
	return nil
}

// Split returns the windows covering text. The last window ends at the end
// of the text; empty text yields no windows.
func (c Chunker) Split(text string) []Span {
	if text == "" {
		return nil
	}
	runes := []rune(text)

	step := c.Size - c.Overlap
	var spans []Span
	for start := 0; start < len(runes); start += step {
		end := start + c.Size
		if end > len(runes) {
			end = len(runes)
		}
		spans = append(spans, Span{Start: start, End: end, Text: string(runes[start:end])})
		if end == len(runes) {
			break
		}
	}
	return spans
}
