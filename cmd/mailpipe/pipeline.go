package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nhle/mailpipe/internal/keys"
	"github.com/nhle/mailpipe/internal/model"
	mailsync "github.com/nhle/mailpipe/internal/sync"
	"github.com/nhle/mailpipe/internal/theme"
	"github.com/nhle/mailpipe/internal/ui/backlog"
)

const waitInterval = 250 * time.Millisecond

func syncCmd(e *env) *cobra.Command {
	var limit int
	var annotate bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch recent messages from the remote mailbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			user, err := e.currentUser(ctx)
			if err != nil {
				return err
			}
			engine, err := e.openEngine()
			if err != nil {
				return err
			}

			if limit <= 0 {
				limit = e.cfg.Sync.Limit
			}
			inserted, err := engine.FetchAndStore(ctx, user.ID, limit)
			printf(cmd, "%d new messages for %s\n", len(inserted), user.Email)
			var partial *mailsync.PartialError
			switch {
			case errors.As(err, &partial):
				printf(cmd, "%s\n", theme.ErrorStyle.Render(
					fmt.Sprintf("%d messages could not be fetched and were skipped", partial.Failed)))
			case err != nil:
				return err
			}

			if !annotate {
				return nil
			}
			return runAnnotation(ctx, cmd, e, e.cfg.Jobs.Batch, true)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "maximum messages to fetch (default sync.limit)")
	cmd.Flags().BoolVar(&annotate, "annotate", false, "annotate new messages after syncing")
	return cmd
}

func annotateCmd(e *env) *cobra.Command {
	var batch int
	var wait bool

	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Classify and summarize unannotated messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if batch <= 0 {
				batch = e.cfg.Jobs.Batch
			}
			return runAnnotation(cmd.Context(), cmd, e, batch, wait)
		},
	}

	cmd.Flags().IntVar(&batch, "batch", 0, "messages per run (default jobs.batch)")
	cmd.Flags().BoolVar(&wait, "wait", true, "run the jobs and wait for them; false only queues them")
	return cmd
}

// runAnnotation dispatches jobs for up to batch messages. With wait it
// also runs them, together with any unfinished jobs from earlier runs.
func runAnnotation(ctx context.Context, cmd *cobra.Command, e *env, batch int, wait bool) error {
	orch, err := e.openOrchestrator()
	if err != nil {
		return err
	}

	if wait {
		e.pool.Start(ctx)
		if _, err := e.pool.Recover(ctx); err != nil {
			return err
		}
	}

	handles, err := orch.EnqueueUnannotated(ctx, batch)
	if err != nil {
		return err
	}
	if len(handles) == 0 {
		printf(cmd, "nothing to annotate\n")
		return nil
	}
	if !wait {
		printf(cmd, "queued %d jobs\n", len(handles))
		return nil
	}

	ids := make([]string, len(handles))
	for i, h := range handles {
		ids[i] = h.ID
	}
	done, err := e.pool.Wait(ctx, waitInterval, ids...)
	if err != nil {
		return err
	}

	var failed []model.Job
	for _, job := range done {
		if job.State == model.JobFailed {
			failed = append(failed, job)
		}
	}
	printf(cmd, "annotated: %d jobs done, %d failed\n", len(done)-len(failed), len(failed))
	for _, job := range failed {
		printf(cmd, "  %s\n", theme.ErrorStyle.Render(
			fmt.Sprintf("%s message %d: %s", job.Kind, job.MessageID, job.Error)))
	}
	return nil
}

func backlogCmd(e *env) *cobra.Command {
	var watch bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "Show how many messages await annotation",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := e.openOrchestrator()
			if err != nil {
				return err
			}

			if !watch {
				n, err := orch.Backlog(cmd.Context())
				if err != nil {
					return err
				}
				printf(cmd, "%d messages awaiting annotation\n", n)
				return nil
			}

			p := tea.NewProgram(
				backlog.New(orch, keys.DefaultKeyMap(), interval),
				tea.WithContext(cmd.Context()),
			)
			_, err = p.Run()
			return err
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "keep watching until the backlog drains")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval in watch mode")
	return cmd
}

func serveCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll every user's mailbox and annotate in the background",
		Long:  "Runs the poller and the job pool until interrupted. SIGHUP starts a poll round immediately.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			orch, err := e.openOrchestrator()
			if err != nil {
				return err
			}
			engine, err := e.openEngine()
			if err != nil {
				return err
			}

			e.pool.Start(ctx)
			if _, err := e.pool.Recover(ctx); err != nil {
				return err
			}

			poller := mailsync.NewPoller(engine, e.store, orch, mailsync.PollerOptions{
				Interval: e.cfg.Sync.PollInterval,
				Limit:    e.cfg.Sync.PollLimit,
				Batch:    e.cfg.Jobs.Batch,
				Logger:   e.logger.WithPrefix("poller"),
			})
			poller.Start(ctx)
			defer poller.Stop()

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)

			e.logger.Info("serving", "interval", e.cfg.Sync.PollInterval, "workers", e.cfg.Jobs.Workers)
			for {
				select {
				case <-ctx.Done():
					e.logger.Info("shutting down")
					return nil
				case <-hup:
					poller.Trigger()
				}
			}
		},
	}
}
