package viz

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Record is one line of a stream.
type Record struct {
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Entity    string    `json:"entity"`
	Items     []Item    `json:"items"`
}

// Item is a tagged archetype.
type Item struct {
	Kind string    `json:"kind"`
	Data Archetype `json:"data"`
}

// StreamRecorder writes one JSON record per Log call.
type StreamRecorder struct {
	mu       sync.Mutex
	w        *bufio.Writer
	closer   io.Closer
	encoder  *json.Encoder
	sequence int64
	closed   bool
}

// NewStreamRecorder writes records to w. When w is an io.Closer it is closed
// with the recorder.
func NewStreamRecorder(w io.Writer) *StreamRecorder {
	buf := bufio.NewWriter(w)
	r := &StreamRecorder{w: buf, encoder: json.NewEncoder(buf)}
	if c, ok := w.(io.Closer); ok {
		r.closer = c
	}
	return r
}

// Log implements Recorder.
func (r *StreamRecorder) Log(entity string, items ...Archetype) error {
	if err := validate(entity, items); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	record := Record{Sequence: r.sequence, Timestamp: time.Now().UTC(), Entity: entity, Items: make([]Item, len(items))}
	for i, item := range items {
		record.Items[i] = Item{Kind: item.Kind(), Data: item}
	}
	if err := r.encoder.Encode(record); err != nil {
		return errors.Wrapf(err, "encode %s", entity)
	}
	r.sequence++
	return nil
}

// Close flushes buffered records.
func (r *StreamRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	err := errors.Wrap(r.w.Flush(), "flush stream")
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = errors.Wrap(cerr, "close stream")
		}
	}
	return err
}
