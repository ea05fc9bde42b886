package codec

import "github.com/automerge/automerge-sub002/op"

// InterruptibleLoader is the stepwise iterator behind incremental loading:
// each Step advances by at most one chunk (one change, for
// an incremental-format input, or the whole document for a document
// blob) and reports whether loading is finished. No result is visible
// until Done; a Loader is single-threaded and owns its input buffer.
type InterruptibleLoader struct {
	data      []byte
	changes   []*op.Change
	done      bool
	isDocForm bool
	docHeads  []op.Hash
}

// NewInterruptibleLoader inspects the leading chunk type to decide
// whether data is a single document blob (one Step finishes it) or a
// concatenation of change chunks (one Step per change).
func NewInterruptibleLoader(data []byte) *InterruptibleLoader {
	l := &InterruptibleLoader{data: data}
	if len(data) >= 5 && [4]byte(data[:4]) == Magic && ChunkType(data[4]) == ChunkDocument {
		l.isDocForm = true
	}
	return l
}

// Step advances the loader by at most one chunk. It returns done=true
// once there is nothing left to decode (or, for a document blob, after
// the single chunk has been consumed).
func (l *InterruptibleLoader) Step() (done bool, err error) {
	if l.done {
		return true, nil
	}
	if l.isDocForm {
		changes, heads, derr := DecodeDocument(l.data)
		if derr != nil {
			return false, derr
		}
		l.changes = changes
		l.docHeads = heads
		l.data = nil
		l.done = true
		return true, nil
	}
	if len(l.data) == 0 {
		l.done = true
		return true, nil
	}
	c, tail, derr := DecodeChange(l.data)
	if derr != nil {
		return false, derr
	}
	l.changes = append(l.changes, c)
	l.data = tail
	if len(l.data) == 0 {
		l.done = true
	}
	return l.done, nil
}

// Changes returns the changes decoded so far (valid after each Step,
// complete once Step reports done).
func (l *InterruptibleLoader) Changes() []*op.Change { return l.changes }

// Heads returns the heads list decoded from a document-form input, or
// nil for an incremental-form input (the caller derives heads itself).
func (l *InterruptibleLoader) Heads() []op.Hash { return l.docHeads }
