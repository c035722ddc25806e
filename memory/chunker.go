package memory

// Chunk is one piece of a split turn. Index is the chunk's position in
// the original text, starting at 0.
type Chunk struct {
	Index int
	Text  string
}

// Chunker splits long text into overlapping fixed-stride windows.
//
// Geometry: with stride = size - overlap, chunk i covers characters
// [i*stride, i*stride+size). That gives exactly ceil(len/stride) chunks,
// and concatenating chunks with the leading overlap of each dropped
// reconstructs the original text verbatim. Words cut at a window edge
// appear whole in the adjacent chunk as long as the overlap is at least
// the word length, which is how word continuity survives splitting
// without perturbing the window positions.
//
// Sizes are in runes, not bytes, so multi-byte text never splits inside
// a character.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with the given window size and overlap,
// both in runes. Overlap must be smaller than size.
func NewChunker(size, overlap int) *Chunker {
	if overlap >= size {
		overlap = size - 1
	}
	if overlap < 0 {
		overlap = 0
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split cuts text into chunks. Text no longer than the window size comes
// back as a single chunk.
func (c *Chunker) Split(text string) []Chunk {
	runes := []rune(text)
	if len(runes) <= c.size {
		return []Chunk{{Index: 0, Text: text}}
	}

	stride := c.size - c.overlap
	chunks := make([]Chunk, 0, (len(runes)+stride-1)/stride)
	for start, i := 0, 0; start < len(runes); start, i = start+stride, i+1 {
		end := start + c.size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{Index: i, Text: string(runes[start:end])})
	}
	return chunks
}

// Join reverses Split: it concatenates chunks after dropping each chunk's
// leading overlap, yielding the original text.
func (c *Chunker) Join(chunks []Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	out := []rune(chunks[0].Text)
	for _, ch := range chunks[1:] {
		runes := []rune(ch.Text)
		if len(runes) <= c.overlap {
			continue // tail chunk fully inside the previous window's overlap
		}
		out = append(out, runes[c.overlap:]...)
	}
	return string(out)
}
