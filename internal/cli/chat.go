package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/kaggler/internal/agent"
)

func newChatCmd() *cobra.Command {
	var (
		topicID string
		handle  string
		stream  bool
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Ask a question about a topic; without a message, start an interactive session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return withApp(ctx, func(a *app) error {
				c := chatter{svc: a.svc, out: cmd.OutOrStdout(), topic: topicID, handle: handle, stream: stream}
				if len(args) > 0 {
					return c.turn(ctx, strings.Join(args, " "))
				}
				return c.repl(ctx, cmd.InOrStdin())
			})
		},
	}

	cmd.Flags().StringVarP(&topicID, "topic", "t", "", "topic (competition id) the conversation is about")
	cmd.Flags().StringVar(&handle, "session", "", "resume under this session handle")
	cmd.Flags().BoolVar(&stream, "stream", false, "print the answer as it is generated")
	cmd.MarkFlagRequired("topic")

	return cmd
}

// turnRunner is the part of agent.Service a chat needs.
type turnRunner interface {
	SubmitTurn(ctx context.Context, req agent.TurnRequest) (*agent.TurnResult, error)
	SubmitTurnStream(ctx context.Context, req agent.TurnRequest) (<-chan agent.TurnEvent, error)
	ResetTopic(ctx context.Context, topic string) (string, error)
}

type chatter struct {
	svc    turnRunner
	out    io.Writer
	topic  string
	handle string
	stream bool
}

func (c *chatter) request(text string) agent.TurnRequest {
	return agent.TurnRequest{TopicID: c.topic, SessionHandle: c.handle, Text: text}
}

func (c *chatter) turn(ctx context.Context, text string) error {
	if !c.stream {
		res, err := c.svc.SubmitTurn(ctx, c.request(text))
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, res.Answer)
		return nil
	}

	events, err := c.svc.SubmitTurnStream(ctx, c.request(text))
	if err != nil {
		return err
	}
	var streamed bool
	var turnErr error
	for ev := range events {
		switch ev.Type {
		case agent.EventDelta:
			fmt.Fprint(c.out, ev.Content)
			streamed = true
		case agent.EventToolStart:
			log.Debug().Str("tool", ev.Tool).Msg("tool call")
		case agent.EventDone:
			// Answers that never streamed (fallback texts) are printed whole.
			if streamed {
				fmt.Fprintln(c.out)
			} else {
				fmt.Fprintln(c.out, ev.Content)
			}
		case agent.EventError:
			turnErr = errors.New(ev.Error)
		}
	}
	return turnErr
}

const replHelp = `Commands:
  /reset   forget this topic's conversation
  /quit    leave`

// repl reads one message per line until EOF, /quit or cancellation.
func (c *chatter) repl(ctx context.Context, in io.Reader) error {
	fmt.Fprintf(c.out, "Chatting about %s. Type /help for commands.\n", c.topic)
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(c.out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/help":
			fmt.Fprintln(c.out, replHelp)
			continue
		case "/reset":
			h, err := c.svc.ResetTopic(ctx, c.topic)
			if err != nil {
				return err
			}
			c.handle = ""
			fmt.Fprintf(c.out, "Started over (session %s).\n", h)
			continue
		}

		if err := c.turn(ctx, line); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}
