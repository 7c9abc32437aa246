package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/kaggler/internal/domain"
	"github.com/soyeahso/kaggler/internal/store"
)

func newTopicCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topic",
		Short: "Inspect and manage topic conversations",
	}

	cmd.AddCommand(newTopicListCmd())
	cmd.AddCommand(newTopicResetCmd())
	cmd.AddCommand(newTopicSnapshotCmd())
	cmd.AddCommand(newTopicMappingsCmd())
	cmd.AddCommand(newTopicHistoryCmd())
	cmd.AddCommand(newTopicSearchCmd())
	return cmd
}

func newTopicListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List topics with a stored conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				topics, err := a.svc.ListTopics(cmd.Context())
				if err != nil {
					return err
				}
				printTopics(cmd.OutOrStdout(), topics)
				return nil
			})
		},
	}
}

func printTopics(w io.Writer, topics []domain.SnapshotInfo) {
	if len(topics) == 0 {
		fmt.Fprintln(w, "No topics yet.")
		return
	}
	for _, t := range topics {
		summary := ""
		if t.HasSummary {
			summary = " summarized"
		}
		fmt.Fprintf(w, "  %-24s %3d msgs  %-40s %s%s\n",
			t.TopicKey, t.Messages, t.SessionHandle, t.SavedAt.Local().Format(time.DateTime), summary)
	}
}

func newTopicResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <topic>",
		Short: "Forget a topic's conversation and start a new session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				handle, err := a.svc.ResetTopic(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %s, new session %s\n", args[0], handle)
				return nil
			})
		},
	}
}

func newTopicSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <topic>",
		Short: "Print a topic's stored snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				rec, err := a.svc.ExportSnapshot(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("snapshot for %s: %w", args[0], err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rec)
			})
		},
	}
}

func newTopicMappingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mappings",
		Short: "Show the session handle of every topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				m, err := a.svc.Mappings(cmd.Context())
				if err != nil {
					return err
				}
				topics := make([]string, 0, len(m))
				for t := range m {
					topics = append(topics, t)
				}
				slices.Sort(topics)
				for _, t := range topics {
					fmt.Fprintf(cmd.OutOrStdout(), "  %-24s %s\n", t, m[t])
				}
				return nil
			})
		},
	}
}

func newTopicHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <topic>",
		Short: "Print archived messages of a topic, including summarized ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				entries, err := a.svc.History(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				printEntries(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum messages")
	return cmd
}

func newTopicSearchCmd() *cobra.Command {
	var (
		topicID string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over archived messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				entries, err := a.svc.Search(cmd.Context(), strings.Join(args, " "), topicID, limit)
				if err != nil {
					return err
				}
				printEntries(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&topicID, "topic", "t", "", "only search this topic")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")
	return cmd
}

func printEntries(w io.Writer, entries []store.TranscriptEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No messages found.")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(w, "[%s] %s %s: %s\n",
			e.CreatedAt.Local().Format(time.DateTime), e.TopicID, e.Role, oneLine(e.Content, 200))
	}
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
