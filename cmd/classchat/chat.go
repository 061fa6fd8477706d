package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cecil-the-coder/classroom-kit/pkg/streaming"
	"github.com/cecil-the-coder/classroom-kit/pkg/types"
)

type chatOptions struct {
	thinking    bool
	historyFile string
	raw         bool
}

func newChatCmd(a *app) *cobra.Command {
	opts := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Stream an assistant answer",
	}
	flags := cmd.PersistentFlags()
	flags.BoolVar(&opts.thinking, "thinking", false, "Ask for and show the reasoning stream")
	flags.StringVar(&opts.historyFile, "history", "", "JSON file with prior turns ([{\"role\":\"user\",\"content\":\"...\"}])")
	flags.BoolVar(&opts.raw, "raw", false, "Print every event as a JSON line instead of text")

	cmd.AddCommand(newChatClassCmd(a, opts), newChatQuestionCmd(a, opts), newChatConversationCmd(a, opts))
	return cmd
}

func newChatClassCmd(a *app, opts *chatOptions) *cobra.Command {
	var (
		threshold float64
		chunks    int
		dataType  string
	)

	cmd := &cobra.Command{
		Use:   "class <class-id> <query>...",
		Short: "Ask about a course class",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			classID, err := parseID("class-id", args[0])
			if err != nil {
				return err
			}
			history, err := opts.history()
			if err != nil {
				return err
			}

			req := &types.ClassChatRequest{
				ClassID:      classID,
				Query:        strings.Join(args[1:], " "),
				ThinkingMode: types.Bool(opts.thinking),
				History:      history,
				ChunkCount:   chunks,
			}
			if cmd.Flags().Changed("threshold") {
				req.SimilarityThreshold = &threshold
			}
			if dataType != "" {
				req.DataTypeFilter = &dataType
			}
			return a.runChat(cmd.Context(), streaming.CourseClassChat, req, opts)
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum similarity of retrieved chunks (0-1)")
	cmd.Flags().IntVar(&chunks, "chunks", 0, "Number of chunks to retrieve")
	cmd.Flags().StringVar(&dataType, "data-type", "", "Only retrieve chunks of this data type")
	return cmd
}

func newChatQuestionCmd(a *app, opts *chatOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "question <question-id> <query>...",
		Short: "Ask about a bank question",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			questionID, err := parseID("question-id", args[0])
			if err != nil {
				return err
			}
			history, err := opts.history()
			if err != nil {
				return err
			}
			return a.runChat(cmd.Context(), streaming.QuestionChat, &types.QuestionChatRequest{
				QuestionID:   questionID,
				Query:        strings.Join(args[1:], " "),
				ThinkingMode: types.Bool(opts.thinking),
				History:      history,
			}, opts)
		},
	}
}

func newChatConversationCmd(a *app, opts *chatOptions) *cobra.Command {
	var conversationID int64

	cmd := &cobra.Command{
		Use:   "conversation <query>...",
		Short: "Start or continue a free-form conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := opts.history()
			if err != nil {
				return err
			}
			return a.runChat(cmd.Context(), streaming.ConversationChat, &types.ConversationChatRequest{
				ConversationID: conversationID,
				Query:          strings.Join(args, " "),
				ThinkingMode:   types.Bool(opts.thinking),
				History:        history,
			}, opts)
		},
	}
	cmd.Flags().Int64Var(&conversationID, "id", 0, "Conversation to continue; 0 starts a new one")
	return cmd
}

// runChat streams one exchange: content to stdout, reasoning and in-band
// errors to stderr, sources after the answer.
func (a *app) runChat(ctx context.Context, ep streaming.Endpoint, payload types.Payload, opts *chatOptions) error {
	var (
		transcript streaming.Transcript
		streamErr  error
		printed    bool
	)

	handle := a.chat.Start(ctx, ep, payload, streaming.Callbacks{
		OnMessage: func(event types.StreamEvent) {
			kind := transcript.Add(event)
			if opts.raw {
				fmt.Fprintf(a.stdout, "%s\n", event.Raw)
				return
			}
			switch kind {
			case streaming.KindReasoning:
				if opts.thinking {
					fmt.Fprint(a.stderr, event.Text())
				}
			case streaming.KindContent:
				fmt.Fprint(a.stdout, event.Text())
				printed = true
			case streaming.KindError:
				fmt.Fprintf(a.stderr, "\nassistant error: %s\n", event.AsError().Message)
			case streaming.KindUnknown:
				a.logger.Debug("ignoring event", slog.String("status", string(event.Status)))
			}
		},
		OnError: func(err error) {
			streamErr = err
		},
	})
	if handle != nil {
		handle.Wait()
	}

	if streamErr != nil {
		return streamErr
	}
	if opts.raw {
		return nil
	}

	if !printed {
		if answer := transcript.Answer(); answer != "" {
			fmt.Fprint(a.stdout, answer)
			printed = true
		}
	}
	if printed {
		fmt.Fprintln(a.stdout)
	}
	if ctx.Err() != nil {
		fmt.Fprintln(a.stderr, "(cancelled)")
		return nil
	}
	if transcript.Sources != nil {
		printSources(a, transcript.Sources)
	}
	if len(transcript.Errors) > 0 {
		return transcript.Errors[0]
	}
	return nil
}

func printSources(a *app, sources *types.Sources) {
	if len(sources.Sources) == 0 {
		return
	}
	fmt.Fprintf(a.stdout, "\nSources (%d):\n", len(sources.Sources))
	for i, src := range sources.Sources {
		best := 0.0
		for _, chunk := range src.Chunks {
			best = max(best, chunk.Similarity)
		}
		fmt.Fprintf(a.stdout, "  [%d] %s / %s (%d chunks, best similarity %.2f)\n",
			i+1, src.KnowledgeBase.Name, src.File.Name, len(src.Chunks), best)
	}
}

func (o *chatOptions) history() ([]types.HistoryMessage, error) {
	if o.historyFile == "" {
		return nil, nil
	}
	//nolint:gosec // G304: history path is provided by the user
	data, err := os.ReadFile(o.historyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}
	var history []types.HistoryMessage
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to parse history file %s: %w", o.historyFile, err)
	}
	return history, nil
}

func parseID(name, value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, value)
	}
	return id, nil
}
