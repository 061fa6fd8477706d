// Package decoders turns the raw byte stream of a chat response into discrete
// StreamEvent values.
//
// The wire format is a reduced form of Server-Sent Events: every frame is
//
//	data: <JSON object>\n\n
//
// Frames are separated by a blank line. A frame may contain newlines inside
// its JSON payload but never a bare blank-line sequence. Segments without the
// data prefix (keep-alive comments, stray blank segments) are ignored.
package decoders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"

	"github.com/cecil-the-coder/classroom-kit/pkg/types"
)

const (
	// FrameDelimiter separates two frames.
	FrameDelimiter = "\n\n"

	// DataPrefix marks a frame that carries a JSON event.
	DataPrefix = "data: "

	// DefaultReadBufferSize is the size of a single read from the body.
	DefaultReadBufferSize = 4096
)

var (
	delimiter  = []byte(FrameDelimiter)
	dataPrefix = []byte(DataPrefix)
)

// ErrDecoderFinished is returned when a finished decoder is fed again.
var ErrDecoderFinished = errors.New("decoder already finished")

// ErrAlreadyConsumed is yielded when the sequence of a decoder is ranged over
// a second time. Sequences are not restartable.
var ErrAlreadyConsumed = errors.New("stream already consumed")

// Option configures a FrameDecoder.
type Option func(*FrameDecoder)

// WithReadBufferSize sets the read size used by Decode.
func WithReadBufferSize(n int) Option {
	return func(d *FrameDecoder) {
		if n > 0 {
			d.readSize = n
		}
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(d *FrameDecoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// FrameDecoder buffers raw bytes and emits complete frames as events.
//
// A FrameDecoder holds per-stream state and must not be shared between
// streams or used from several goroutines at once.
type FrameDecoder struct {
	buf      []byte
	scanFrom int
	err      error
	finished bool
	started  bool
	readSize int
	logger   *slog.Logger
}

// NewFrameDecoder creates a decoder for one stream.
func NewFrameDecoder(opts ...Option) *FrameDecoder {
	d := &FrameDecoder{
		readSize: DefaultReadBufferSize,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Feed appends chunk to the buffer and returns every event completed by it,
// in arrival order.
//
// If a frame with the data prefix holds invalid JSON, Feed returns the events
// decoded before it together with a decode error. The decoder then stays
// failed: later calls return the same error and nothing else.
func (d *FrameDecoder) Feed(chunk []byte) ([]types.StreamEvent, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.finished {
		return nil, ErrDecoderFinished
	}

	d.buf = append(d.buf, chunk...)

	var events []types.StreamEvent
	start := 0
	for {
		idx := bytes.Index(d.buf[start+d.scanFrom:], delimiter)
		if idx < 0 {
			break
		}
		end := start + d.scanFrom + idx
		segment := d.buf[start:end]
		start = end + len(delimiter)
		d.scanFrom = 0

		event, ok, err := parseSegment(segment)
		if err != nil {
			d.err = err
			d.buf = nil
			return events, err
		}
		if ok {
			events = append(events, event)
		}
	}

	if start > 0 {
		n := copy(d.buf, d.buf[start:])
		d.buf = d.buf[:n]
	}
	// The next scan only has to revisit the byte that could start a delimiter.
	d.scanFrom = max(0, len(d.buf)-len(delimiter)+1)

	return events, nil
}

// Pending returns the number of buffered bytes not yet terminated by a
// delimiter.
func (d *FrameDecoder) Pending() int {
	return len(d.buf)
}

// Err returns the decode error that failed the decoder, if any.
func (d *FrameDecoder) Err() error {
	return d.err
}

// Finish ends the stream. A trailing partial frame is discarded, never
// emitted; the number of discarded bytes is returned.
func (d *FrameDecoder) Finish() int {
	discarded := len(d.buf)
	d.buf = nil
	d.scanFrom = 0
	d.finished = true
	return discarded
}

// Decode returns a lazy sequence of the events read from r.
//
// The sequence yields at most one error, after which it stops: either a read
// error (as a transport error) or a decode error. Reaching EOF ends it
// normally. Once ctx is done no further events are yielded and no error is
// reported. The sequence can be ranged over only once.
func (d *FrameDecoder) Decode(ctx context.Context, r io.Reader) iter.Seq2[types.StreamEvent, error] {
	return func(yield func(types.StreamEvent, error) bool) {
		if d.started {
			yield(types.StreamEvent{}, ErrAlreadyConsumed)
			return
		}
		d.started = true

		defer func() {
			if n := d.Finish(); n > 0 && d.err == nil {
				d.logger.Debug("discarding unterminated frame", slog.Int("bytes", n))
			}
		}()

		buf := make([]byte, d.readSize)
		for {
			if ctx.Err() != nil {
				return
			}

			n, readErr := r.Read(buf)
			if n > 0 {
				events, err := d.Feed(buf[:n])
				for _, event := range events {
					if ctx.Err() != nil {
						return
					}
					d.logger.Debug("decoded stream event", slog.String("status", string(event.Status)))
					if !yield(event, nil) {
						return
					}
				}
				if err != nil {
					yield(types.StreamEvent{}, err)
					return
				}
			}

			if readErr != nil {
				if errors.Is(readErr, io.EOF) || ctx.Err() != nil {
					return
				}
				yield(types.StreamEvent{}, types.NewTransportError(types.ErrCodeNetwork, "error reading stream").WithOriginalErr(readErr))
				return
			}
		}
	}
}

// parseSegment decodes one delimiter-terminated segment. ok is false for
// segments that carry no event.
func parseSegment(segment []byte) (event types.StreamEvent, ok bool, err error) {
	// Tolerate stray line breaks left over from a run of more than two newlines.
	segment = bytes.TrimLeft(segment, "\r\n")
	if !bytes.HasPrefix(segment, dataPrefix) {
		return types.StreamEvent{}, false, nil
	}

	payload := bytes.TrimSpace(segment[len(dataPrefix):])
	if len(payload) == 0 || payload[0] != '{' {
		return types.StreamEvent{}, false, types.NewDecodeError(string(segment), errors.New("payload is not a JSON object"))
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return types.StreamEvent{}, false, types.NewDecodeError(string(segment), err)
	}
	event.Raw = string(payload)
	return event, true, nil
}
