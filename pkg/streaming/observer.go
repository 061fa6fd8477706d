package streaming

import (
	"time"

	"github.com/cecil-the-coder/classroom-kit/pkg/types"
)

// StreamObserver receives lifecycle notifications for every stream a
// Controller opens. Implementations must be safe for concurrent use.
type StreamObserver interface {
	// StreamOpened is called once the backend accepted the request.
	StreamOpened(endpoint string)
	// EventReceived is called for each event delivered to the consumer.
	EventReceived(endpoint string, status types.EventStatus)
	// StreamFailed is called for each error reported to the consumer.
	StreamFailed(endpoint string, kind types.ErrorKind)
	// StreamClosed is called once per opened stream when it is released.
	StreamClosed(endpoint string, duration time.Duration)
}

type noopObserver struct{}

func (noopObserver) StreamOpened(string) {}
func (noopObserver) EventReceived(string, types.EventStatus) {}
func (noopObserver) StreamFailed(string, types.ErrorKind) {}
func (noopObserver) StreamClosed(string, time.Duration) {}
