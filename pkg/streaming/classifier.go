package streaming

import (
	"encoding/json"
	"iter"
	"strings"

	"github.com/cecil-the-coder/classroom-kit/pkg/types"
)

// Kind is the consumer-facing category of an event.
type Kind int

const (
	KindUnknown Kind = iota
	KindChunks
	KindReasoning
	KindContent
	KindEnd
	KindError
)

// String implements fmt.Stringer
func (k Kind) String() string {
	switch k {
	case KindChunks:
		return "chunks"
	case KindReasoning:
		return "reasoning"
	case KindContent:
		return "content"
	case KindEnd:
		return "end"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Classify maps an event to its Kind. Statuses outside the known set are
// KindUnknown.
func Classify(event types.StreamEvent) Kind {
	switch event.Status {
	case types.StatusChunks:
		return KindChunks
	case types.StatusReasoning:
		return KindReasoning
	case types.StatusContent:
		return KindContent
	case types.StatusEnd:
		return KindEnd
	case types.StatusError:
		return KindError
	default:
		return KindUnknown
	}
}

// Transcript accumulates the events of one exchange on the consumer side.
// The zero value is ready to use. A Transcript is not safe for concurrent use.
type Transcript struct {
	content   strings.Builder
	reasoning strings.Builder

	// Chunks is the payload of the last chunks event.
	Chunks json.RawMessage
	// Final is the payload of the end event.
	Final json.RawMessage
	// Sources is the first sources bundle seen during the exchange.
	Sources *types.Sources
	// Errors holds the in-band errors reported by the server.
	Errors []*types.ClientError
	// Ended is set once an end event arrived.
	Ended bool
	// Events counts every event added; Unknown counts those of unknown status.
	Events  int
	Unknown int
}

// Add records event and returns its Kind.
func (t *Transcript) Add(event types.StreamEvent) Kind {
	t.Events++
	if event.Sources != nil && t.Sources == nil {
		t.Sources = event.Sources
	}

	kind := Classify(event)
	switch kind {
	case KindChunks:
		t.Chunks = event.Content
	case KindReasoning:
		t.reasoning.WriteString(event.Text())
	case KindContent:
		t.content.WriteString(event.Text())
	case KindEnd:
		t.Final = event.Content
		t.Ended = true
	case KindError:
		t.Errors = append(t.Errors, event.AsError())
	default:
		t.Unknown++
	}
	return kind
}

// Content returns the concatenated answer fragments.
func (t *Transcript) Content() string {
	return t.content.String()
}

// Reasoning returns the concatenated reasoning fragments.
func (t *Transcript) Reasoning() string {
	return t.reasoning.String()
}

// Answer returns the end payload as text when present, else the
// concatenated content.
func (t *Transcript) Answer() string {
	if t.Ended {
		if text := (types.StreamEvent{Content: t.Final}).Text(); text != "" {
			return text
		}
	}
	return t.Content()
}

// Collect drains seq into a transcript. It returns the transcript built so
// far together with the sequence's error, if any.
func Collect(seq iter.Seq2[types.StreamEvent, error]) (*Transcript, error) {
	t := &Transcript{}
	for event, err := range seq {
		if err != nil {
			return t, err
		}
		t.Add(event)
	}
	return t, nil
}
