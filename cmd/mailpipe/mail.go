package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nhle/mailpipe/internal/ai"
	"github.com/nhle/mailpipe/internal/annotate"
	"github.com/nhle/mailpipe/internal/apperr"
	"github.com/nhle/mailpipe/internal/mailflow"
	"github.com/nhle/mailpipe/internal/model"
	"github.com/nhle/mailpipe/internal/store"
	"github.com/nhle/mailpipe/internal/theme"
)

const summaryWidth = 60

func inboxCmd(e *env) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "List mirrored messages with their annotations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, err := e.currentUser(ctx)
			if err != nil {
				return err
			}

			filter := store.MessageFilter{Limit: limit}
			if status != "all" {
				st := model.Status(status)
				if !st.Valid() {
					return apperr.Invalidf("unknown status %q", status)
				}
				filter.Status = &st
			}

			msgs, err := e.store.ListMessages(ctx, user.ID, filter)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				printf(cmd, "%s\n", theme.SubtleStyle.Render("no messages"))
				return nil
			}

			v, err := e.openVault()
			if err != nil {
				return err
			}
			annotated := annotate.NewReader(v, e.log().WithPrefix("inbox")).Decorate(msgs)

			printf(cmd, "%s\n%s\n", theme.HeaderStyle.Render(user.Email), renderInbox(annotated))
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", string(model.StatusInbox), "inbox, archived, trashed, draft, sent or all")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum messages to list")
	return cmd
}

func renderInbox(msgs []annotate.AnnotatedMessage) string {
	rows := make([][]string, 0, len(msgs))
	for _, m := range msgs {
		label := theme.SubtleStyle.Render("pending")
		switch {
		case m.Corrupt():
			label = theme.ErrorStyle.Render("corrupt")
		case m.Classification != nil:
			label = theme.LabelStyle(string(m.Classification.Label)).Render(string(m.Classification.Label))
		}

		subject := m.Subject
		if !m.IsRead {
			subject = theme.UnreadStyle.Render(subject)
		}

		rows = append(rows, []string{
			fmt.Sprint(m.ID),
			theme.StatusStyle(string(m.Status)).Render(string(m.Status)),
			label,
			m.Sender,
			subject,
			theme.SubtleStyle.Render(ai.Truncate(m.Summary, summaryWidth)),
			theme.SubtleStyle.Render(humanize.Time(m.CreatedAt)),
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(theme.ColorBorder)).
		Headers("ID", "STATUS", "LABEL", "FROM", "SUBJECT", "SUMMARY", "RECEIVED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Foreground(theme.ColorBlue).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		String()
}

// actionCmd builds one of the single-message status commands.
func actionCmd(e *env, use, short, done string, apply func(*mailflow.Service, context.Context, int64, int64) (*model.Message, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			user, err := e.currentUser(ctx)
			if err != nil {
				return err
			}
			svc, err := e.mailflow()
			if err != nil {
				return err
			}

			m, err := apply(svc, ctx, user.ID, id)
			if err != nil {
				return err
			}
			printf(cmd, "message %d %s (%s)\n", m.ID, done, theme.StatusStyle(string(m.Status)).Render(string(m.Status)))
			return nil
		},
	}
}

func archiveCmd(e *env) *cobra.Command {
	return actionCmd(e, "archive", "Archive a message", "archived", (*mailflow.Service).Archive)
}

func trashCmd(e *env) *cobra.Command {
	return actionCmd(e, "trash", "Move a message to the trash", "trashed", (*mailflow.Service).Trash)
}

func restoreCmd(e *env) *cobra.Command {
	return actionCmd(e, "restore", "Move a message back to the inbox", "restored", (*mailflow.Service).Restore)
}

func readCmd(e *env) *cobra.Command {
	return actionCmd(e, "read", "Mark a message as read", "marked read", (*mailflow.Service).MarkRead)
}

// composeFields fills the empty fields of a message interactively.
func composeFields(to, subject, body *string) error {
	if *to != "" && *subject != "" && *body != "" {
		return nil
	}
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("To").
				Description("Comma separated addresses").
				Value(to),
			huh.NewInput().
				Title("Subject").
				Value(subject),
			huh.NewText().
				Title("Body").
				Value(body),
		),
	).Run()
	if err != nil {
		return apperr.New(apperr.Invalid, "compose cancelled", err)
	}
	return nil
}

func splitAddresses(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func draftCmd(e *env) *cobra.Command {
	var to, subject, body string

	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Save a draft locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, err := e.currentUser(ctx)
			if err != nil {
				return err
			}
			if err := composeFields(&to, &subject, &body); err != nil {
				return err
			}
			svc, err := e.mailflow()
			if err != nil {
				return err
			}

			d, err := svc.SaveDraft(ctx, user.ID, mailflow.Draft{
				To:      splitAddresses(to),
				Subject: subject,
				Body:    body,
			})
			if err != nil {
				return err
			}
			printf(cmd, "draft %d saved\n", d.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "recipients, comma separated")
	cmd.Flags().StringVar(&subject, "subject", "", "subject line")
	cmd.Flags().StringVar(&body, "body", "", "message body")
	return cmd
}

func sendCmd(e *env) *cobra.Command {
	var draftID int64
	var to, subject, body string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message or a saved draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, err := e.currentUser(ctx)
			if err != nil {
				return err
			}
			if draftID == 0 {
				if err := composeFields(&to, &subject, &body); err != nil {
					return err
				}
			}
			svc, err := e.mailflow()
			if err != nil {
				return err
			}

			m, err := svc.Send(ctx, user.ID, mailflow.SendRequest{
				DraftID: draftID,
				To:      splitAddresses(to),
				Subject: subject,
				Body:    body,
			})
			if err != nil {
				return err
			}
			printf(cmd, "sent to %s (message %d)\n", m.Recipients, m.ID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&draftID, "draft", 0, "send this draft; other flags override its fields")
	cmd.Flags().StringVar(&to, "to", "", "recipients, comma separated")
	cmd.Flags().StringVar(&subject, "subject", "", "subject line")
	cmd.Flags().StringVar(&body, "body", "", "message body")
	return cmd
}

func rewriteCmd(e *env) *cobra.Command {
	var tone string
	var messageID int64

	cmd := &cobra.Command{
		Use:   "rewrite [text]",
		Short: "Rewrite text or a stored message in another tone",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t := ai.Tone(tone)
			if t != ai.ToneFormal && t != ai.ToneCasual {
				return apperr.Invalidf("tone must be formal or casual, got %q", tone)
			}

			text := strings.Join(args, " ")
			if messageID != 0 {
				user, err := e.currentUser(ctx)
				if err != nil {
					return err
				}
				m, err := e.store.GetUserMessage(ctx, user.ID, messageID)
				if err != nil {
					return err
				}
				text = m.Snippet
			}
			if strings.TrimSpace(text) == "" {
				return apperr.Invalidf("nothing to rewrite: pass text or --message")
			}

			printf(cmd, "%s\n", e.annotator().Rewrite(ctx, text, t))
			return nil
		},
	}

	cmd.Flags().StringVar(&tone, "tone", string(ai.ToneFormal), "formal or casual")
	cmd.Flags().Int64Var(&messageID, "message", 0, "rewrite the body of this message")
	return cmd
}
