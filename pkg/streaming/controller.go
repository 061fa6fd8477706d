// Package streaming opens streaming chat requests against the backend and
// exposes their decoded events as iterators or callbacks.
package streaming

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	kithttp "github.com/cecil-the-coder/classroom-kit/pkg/http"
	"github.com/cecil-the-coder/classroom-kit/pkg/streaming/decoders"
	"github.com/cecil-the-coder/classroom-kit/pkg/types"
)

// maxErrorBody bounds how much of a rejected response body is read.
const maxErrorBody = 64 << 10

// ErrAlreadyConsumed is yielded when the events of a Stream are ranged over
// a second time.
var ErrAlreadyConsumed = decoders.ErrAlreadyConsumed

// Transport sends a streaming request and returns the response with its
// body unread. The Client of pkg/http implements it.
type Transport interface {
	Stream(ctx context.Context, path string, body []byte) (*http.Response, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger used by the controller and its streams.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver sets the observer notified of stream lifecycle events.
func WithObserver(observer StreamObserver) Option {
	return func(c *Controller) {
		if observer != nil {
			c.observer = observer
		}
	}
}

// WithReadBufferSize sets the size of each read from a response body.
func WithReadBufferSize(n int) Option {
	return func(c *Controller) {
		c.readSize = n
	}
}

// Controller opens streaming chat requests. It holds only immutable
// configuration and is safe for concurrent use; every request gets its own
// Stream with its own decoder state.
type Controller struct {
	transport Transport
	logger    *slog.Logger
	observer  StreamObserver
	readSize  int
}

// NewController creates a controller sending requests through transport.
func NewController(transport Transport, opts ...Option) *Controller {
	c := &Controller{
		transport: transport,
		logger:    slog.New(slog.DiscardHandler),
		observer:  noopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Open validates payload and, if it is complete, sends exactly one POST to
// the endpoint. On success the returned Stream owns the response body.
//
// A validation failure sends nothing. A failed round trip, a non-2xx status
// or a response without a body is returned as a transport error.
func (c *Controller) Open(ctx context.Context, ep Endpoint, payload types.Payload) (*Stream, error) {
	body, err := c.prepare(ep, payload)
	if err != nil {
		return nil, err
	}
	return c.open(ctx, ep, body)
}

// ClassChat opens a course class chat stream.
func (c *Controller) ClassChat(ctx context.Context, req *types.ClassChatRequest) (*Stream, error) {
	return c.Open(ctx, CourseClassChat, req)
}

// QuestionChat opens a question bank chat stream.
func (c *Controller) QuestionChat(ctx context.Context, req *types.QuestionChatRequest) (*Stream, error) {
	return c.Open(ctx, QuestionChat, req)
}

// ConversationChat opens a free-form conversation stream.
func (c *Controller) ConversationChat(ctx context.Context, req *types.ConversationChatRequest) (*Stream, error) {
	return c.Open(ctx, ConversationChat, req)
}

func (c *Controller) prepare(ep Endpoint, payload types.Payload) ([]byte, error) {
	if payload == nil {
		return nil, c.rejected(ep, types.NewValidationError("payload"))
	}
	if err := payload.Validate(); err != nil {
		return nil, c.rejected(ep, err)
	}

	body, err := ep.Body(payload)
	if err != nil {
		e := types.NewValidationError()
		e.Message = "failed to encode request body"
		return nil, c.rejected(ep, e.WithOriginalErr(err))
	}
	return body, nil
}

func (c *Controller) rejected(ep Endpoint, err error) error {
	var ce *types.ClientError
	if errors.As(err, &ce) {
		ce.WithEndpoint(ep.Path)
		c.observer.StreamFailed(ep.Name, ce.Kind)
	} else {
		c.observer.StreamFailed(ep.Name, types.KindValidation)
	}
	c.logger.Debug("request rejected before sending",
		slog.String("endpoint", ep.Name),
		slog.String("error", err.Error()))
	return err
}

func (c *Controller) open(ctx context.Context, ep Endpoint, body []byte) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	start := time.Now()

	resp, err := c.transport.Stream(ctx, ep.Path, body)
	if err != nil {
		cancel()
		return nil, c.failed(ep, asTransportError(err, ep))
	}

	requestID := ""
	if resp.Request != nil {
		requestID = resp.Request.Header.Get(kithttp.RequestIDHeader)
	}
	if resp.Body == nil {
		resp.Body = http.NoBody
	}

	if !kithttp.IsSuccess(resp.StatusCode) {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		cancel()
		apiErr := kithttp.ParseAPIError(resp.StatusCode, string(data)).
			WithEndpoint(ep.Path).
			WithRequestID(requestID)
		return nil, c.failed(ep, apiErr)
	}

	if resp.Body == http.NoBody {
		cancel()
		noBody := types.NewTransportError(types.ErrCodeNoBody, "response has no body").
			WithEndpoint(ep.Path).
			WithRequestID(requestID)
		noBody.StatusCode = resp.StatusCode
		return nil, c.failed(ep, noBody)
	}

	opts := []decoders.Option{decoders.WithLogger(c.logger)}
	if c.readSize > 0 {
		opts = append(opts, decoders.WithReadBufferSize(c.readSize))
	}

	s := &Stream{
		endpoint:  ep,
		body:      resp.Body,
		ctx:       ctx,
		cancel:    cancel,
		decoder:   decoders.NewFrameDecoder(opts...),
		logger:    c.logger.With(slog.String("endpoint", ep.Name), slog.String("request_id", requestID)),
		observer:  c.observer,
		start:     start,
		requestID: requestID,
	}
	c.observer.StreamOpened(ep.Name)
	s.logger.Debug("stream opened", slog.Int("status", resp.StatusCode))
	return s, nil
}

func (c *Controller) failed(ep Endpoint, err *types.ClientError) error {
	c.observer.StreamFailed(ep.Name, err.Kind)
	c.logger.Warn("stream request failed",
		slog.String("endpoint", ep.Name),
		slog.String("error", err.Error()))
	return err
}

func asTransportError(err error, ep Endpoint) *types.ClientError {
	var ce *types.ClientError
	if errors.As(err, &ce) {
		return ce.WithEndpoint(ep.Path)
	}
	return types.NewTransportError(types.ErrCodeNetwork, "request failed").
		WithEndpoint(ep.Path).
		WithOriginalErr(err)
}

// Stream is one in-flight chat response. Its events are consumed once,
// through Events. Cancel and Close may be called from any goroutine, any
// number of times, before or after the events are drained.
type Stream struct {
	endpoint  Endpoint
	body      io.ReadCloser
	ctx       context.Context
	cancel    context.CancelFunc
	decoder   *decoders.FrameDecoder
	logger    *slog.Logger
	observer  StreamObserver
	start     time.Time
	requestID string

	cancelled atomic.Bool
	closeOnce sync.Once
}

// Events returns the ordered sequence of decoded events.
//
// The sequence yields at most one error, after which it ends: a transport
// error if reading the body fails or a decode error for a malformed frame.
// Events with status "error" are delivered as values, not errors. After
// Cancel is observed the sequence ends without an error. The stream is
// closed when the sequence ends or the loop breaks.
func (s *Stream) Events() iter.Seq2[types.StreamEvent, error] {
	return func(yield func(types.StreamEvent, error) bool) {
		defer s.Close()

		for event, err := range s.decoder.Decode(s.ctx, s.body) {
			if err != nil {
				if errors.Is(err, decoders.ErrAlreadyConsumed) {
					yield(types.StreamEvent{}, err)
					return
				}
				if s.ctx.Err() != nil {
					return
				}
				var ce *types.ClientError
				if errors.As(err, &ce) {
					ce.WithEndpoint(s.endpoint.Path).WithRequestID(s.requestID)
					s.observer.StreamFailed(s.endpoint.Name, ce.Kind)
				}
				s.logger.Warn("stream failed", slog.String("error", err.Error()))
				yield(types.StreamEvent{}, err)
				return
			}

			s.observer.EventReceived(s.endpoint.Name, event.Status)
			if !yield(event, nil) {
				return
			}
		}
	}
}

// Cancel aborts the transfer. It is idempotent and safe after completion.
func (s *Stream) Cancel() {
	if s.cancelled.CompareAndSwap(false, true) {
		s.logger.Debug("stream cancelled")
	}
	s.cancel()
}

// Cancelled reports whether Cancel was called.
func (s *Stream) Cancelled() bool {
	return s.cancelled.Load()
}

// Close releases the response body. It is idempotent.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.body.Close()
		d := time.Since(s.start)
		s.observer.StreamClosed(s.endpoint.Name, d)
		s.logger.Debug("stream closed", slog.Duration("duration", d))
	})
	return err
}

// RequestID returns the X-Request-ID sent with the request, if known.
func (s *Stream) RequestID() string {
	return s.requestID
}

// Endpoint returns the endpoint the stream was opened against.
func (s *Stream) Endpoint() Endpoint {
	return s.endpoint
}
