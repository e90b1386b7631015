package keys

import "errors"

var ErrInvalidChunkSize = errors.New("chunk size must be at least 1")

// Chunker walks a key list in successive chunks of at most size keys.
// Chunks preserve the original order and don't overlap, so consuming the
// Chunker fully reproduces the input exactly once. The last chunk may be
// shorter. A Chunker cannot be rewound, create a new one to start over.
type Chunker struct {
	keys []string
	size int
	pos  int
}

func NewChunker(keys []string, size int) (*Chunker, error) {
	if size < 1 {
		return nil, ErrInvalidChunkSize
	}
	return &Chunker{keys: keys, size: size}, nil
}

// Next returns the next chunk, or false once the key list is exhausted.
// The returned slice aliases the original key list and must not be mutated.
func (c *Chunker) Next() ([]string, bool) {
	if c.pos >= len(c.keys) {
		return nil, false
	}
	end := c.pos + c.size
	if end > len(c.keys) {
		end = len(c.keys)
	}
	chunk := c.keys[c.pos:end:end]
	c.pos = end
	return chunk, true
}
