package decoders

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cecil-the-coder/classroom-kit/internal/testutil"
	"github.com/cecil-the-coder/classroom-kit/pkg/types"
)

const fixtureStream = "data: {\"status\":\"chunks\",\"content\":[{\"text\":\"a\"}]}\n\n" +
	": keep-alive\n\n" +
	"data: {\"status\":\"reasoning\",\"content\":\"think\"}\n\n" +
	"data: {\"status\":\"content\",\"content\":\"Hel\"}\n\n" +
	"data: {\"status\":\"content\",\"content\":\"lo\\n\\u4f60好\"}\n\n" +
	"data: {\"status\":\"end\",\"content\":\"Hello\",\"sources\":{\"message\":\"1 source\",\"source_count\":1,\"sources\":[]}}\n\n"

var fixtureStatuses = []types.EventStatus{
	types.StatusChunks,
	types.StatusReasoning,
	types.StatusContent,
	types.StatusContent,
	types.StatusEnd,
}

func feedAll(t *testing.T, d *FrameDecoder, chunks []string) []types.StreamEvent {
	t.Helper()
	var events []types.StreamEvent
	for _, c := range chunks {
		evs, err := d.Feed([]byte(c))
		require.NoError(t, err)
		events = append(events, evs...)
	}
	return events
}

func statuses(events []types.StreamEvent) []types.EventStatus {
	out := make([]types.EventStatus, 0, len(events))
	for _, e := range events {
		out = append(out, e.Status)
	}
	return out
}

func TestFrameDecoder_SingleChunk(t *testing.T) {
	d := NewFrameDecoder()
	events := feedAll(t, d, []string{fixtureStream})

	assert.Equal(t, fixtureStatuses, statuses(events))
	assert.Equal(t, "think", events[1].Text())
	assert.Equal(t, "lo\n你好", events[3].Text())
	require.NotNil(t, events[4].Sources)
	assert.Equal(t, 1, events[4].Sources.SourceCount)
	assert.Zero(t, d.Pending())
}

func TestFrameDecoder_EverySplitPoint(t *testing.T) {
	// Splitting the stream at any byte offset, including inside the
	// delimiter and inside multi-byte runes, must not change the output.
	for i := 0; i <= len(fixtureStream); i++ {
		d := NewFrameDecoder()
		events := feedAll(t, d, []string{fixtureStream[:i], fixtureStream[i:]})
		require.Equal(t, fixtureStatuses, statuses(events), "split at %d", i)
		require.Equal(t, "lo\n你好", events[3].Text(), "split at %d", i)
	}
}

func TestFrameDecoder_ByteAtATime(t *testing.T) {
	d := NewFrameDecoder()
	events := feedAll(t, d, testutil.SplitEvery(fixtureStream, 1))
	assert.Equal(t, fixtureStatuses, statuses(events))
}

func TestFrameDecoder_SplitMidKey(t *testing.T) {
	d := NewFrameDecoder()

	events, err := d.Feed([]byte(`data: {"status":"conten`))
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = d.Feed([]byte("t\",\"content\":\"Hi\"}\n\n"))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.StatusContent, events[0].Status)
	assert.Equal(t, "Hi", events[0].Text())
}

func TestFrameDecoder_NoPartialEmission(t *testing.T) {
	d := NewFrameDecoder()
	events := feedAll(t, d, []string{
		"data: {\"status\":\"content\",\"content\":\"a\"}\n\n",
		"data: {\"status\":\"content\",\"content\":\"b\"}\n",
	})
	require.Len(t, events, 1)
	assert.Greater(t, d.Pending(), 0)

	discarded := d.Finish()
	assert.Equal(t, len("data: {\"status\":\"content\",\"content\":\"b\"}\n"), discarded)

	_, err := d.Feed([]byte("\n"))
	assert.ErrorIs(t, err, ErrDecoderFinished)
}

func TestFrameDecoder_IgnoresNonDataSegments(t *testing.T) {
	d := NewFrameDecoder()
	events := feedAll(t, d, []string{
		": ping\n\n",
		"event: message\n\n",
		"\n\n",
		"data:{\"status\":\"content\"}\n\n", // no space after the colon
		"data: {\"status\":\"content\",\"content\":\"x\"}\n\n",
	})
	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Text())
}

func TestFrameDecoder_ExtraNewlinesBetweenFrames(t *testing.T) {
	d := NewFrameDecoder()
	events := feedAll(t, d, []string{
		"data: {\"status\":\"content\",\"content\":\"a\"}\n\n\n" +
			"data: {\"status\":\"content\",\"content\":\"b\"}\n\n",
	})
	assert.Equal(t, []types.EventStatus{types.StatusContent, types.StatusContent}, statuses(events))
}

func TestFrameDecoder_MalformedFrameIsFatal(t *testing.T) {
	d := NewFrameDecoder()

	events, err := d.Feed([]byte("data: {\"status\":\"end\",\"content\":\"done\"}\n\ndata: not-json\n\ndata: {\"status\":\"content\"}\n\n"))
	require.Error(t, err)
	assert.True(t, types.IsDecodeError(err))
	require.Len(t, events, 1)
	assert.Equal(t, types.StatusEnd, events[0].Status)

	var ce *types.ClientError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "data: not-json", ce.Frame)

	// The decoder stays failed.
	events, err2 := d.Feed([]byte("data: {\"status\":\"content\"}\n\n"))
	assert.Empty(t, events)
	assert.Equal(t, err, err2)
	assert.Equal(t, err, d.Err())
}

func TestFrameDecoder_NonObjectPayloads(t *testing.T) {
	for _, payload := range []string{"null", "[1,2]", `"text"`, "42", ""} {
		t.Run(payload, func(t *testing.T) {
			d := NewFrameDecoder()
			_, err := d.Feed([]byte("data: " + payload + "\n\n"))
			assert.True(t, types.IsDecodeError(err))
		})
	}
}

func TestFrameDecoder_EmbeddedNewlineInJSON(t *testing.T) {
	d := NewFrameDecoder()
	events := feedAll(t, d, []string{"data: {\"status\":\"content\",\n\"content\":\"x\"}\n\n"})
	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Text())
}

func TestFrameDecoder_RawIsCopied(t *testing.T) {
	d := NewFrameDecoder()
	chunk := []byte("data: {\"status\":\"content\",\"content\":\"keep\"}\n\n")
	events, err := d.Feed(chunk)
	require.NoError(t, err)
	for i := range chunk {
		chunk[i] = 'x'
	}
	assert.Equal(t, "keep", events[0].Text())
	assert.Equal(t, `{"status":"content","content":"keep"}`, events[0].Raw)
}

func TestDecode_Sequence(t *testing.T) {
	r := testutil.NewChunkReader(testutil.SplitEvery(fixtureStream, 7))

	var got []types.EventStatus
	for event, err := range NewFrameDecoder(WithReadBufferSize(3)).Decode(context.Background(), r) {
		require.NoError(t, err)
		got = append(got, event.Status)
	}
	assert.Equal(t, fixtureStatuses, got)
}

func TestDecode_StopsAtDecodeError(t *testing.T) {
	r := strings.NewReader("data: {\"status\":\"end\",\"content\":\"done\"}\n\ndata: not-json\n\ndata: {\"status\":\"content\"}\n\n")

	var events []types.StreamEvent
	var errs []error
	for event, err := range NewFrameDecoder().Decode(context.Background(), r) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, event)
	}
	require.Len(t, events, 1)
	require.Len(t, errs, 1)
	assert.True(t, types.IsDecodeError(errs[0]))
}

func TestDecode_ReadErrorIsTransportError(t *testing.T) {
	r := io.MultiReader(
		strings.NewReader("data: {\"status\":\"content\",\"content\":\"a\"}\n\n"),
		iotest.ErrReader(errors.New("connection reset")),
	)

	var errs []error
	count := 0
	for _, err := range NewFrameDecoder().Decode(context.Background(), r) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		count++
	}
	assert.Equal(t, 1, count)
	require.Len(t, errs, 1)
	assert.True(t, types.IsTransportError(errs[0]))
	assert.ErrorContains(t, errs[0], "connection reset")
}

func TestDecode_CancelledContextYieldsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	count := 0
	for range NewFrameDecoder().Decode(ctx, strings.NewReader(fixtureStream)) {
		count++
	}
	assert.Zero(t, count)
}

func TestDecode_CancelMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got []types.EventStatus
	for event, err := range NewFrameDecoder().Decode(ctx, strings.NewReader(fixtureStream)) {
		require.NoError(t, err)
		got = append(got, event.Status)
		if len(got) == 2 {
			cancel()
		}
	}
	// Events already decoded from the same read are not delivered after cancel.
	assert.Equal(t, fixtureStatuses[:2], got)
}

func TestDecode_NotRestartable(t *testing.T) {
	seq := NewFrameDecoder().Decode(context.Background(), strings.NewReader(fixtureStream))
	for range seq {
	}

	var errs []error
	for _, err := range seq {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrAlreadyConsumed)
}

func TestDecode_EarlyBreak(t *testing.T) {
	d := NewFrameDecoder()
	for range d.Decode(context.Background(), strings.NewReader(fixtureStream)) {
		break
	}
	_, err := d.Feed([]byte("x"))
	assert.ErrorIs(t, err, ErrDecoderFinished)
}
