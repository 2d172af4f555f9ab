package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nhle/mailpipe/internal/apperr"
)

func newRootCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mailpipe",
		Short:         "Mirror a mailbox locally and annotate it with AI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load()
		},
	}

	cmd.PersistentFlags().StringVar(&e.configPath, "config", "", "config file (default ~/.config/mailpipe/config.yaml)")
	cmd.PersistentFlags().StringVar(&e.email, "user", "", "act as this user (default: most recent login)")
	cmd.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "override log.level")

	cmd.AddCommand(
		loginCmd(e),
		logoutCmd(e),
		syncCmd(e),
		annotateCmd(e),
		backlogCmd(e),
		serveCmd(e),
		inboxCmd(e),
		archiveCmd(e),
		trashCmd(e),
		restoreCmd(e),
		readCmd(e),
		draftCmd(e),
		sendCmd(e),
		rewriteCmd(e),
		rotateKeyCmd(e),
		configCmd(e),
	)
	return cmd
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Invalidf("%q is not a message id", s)
	}
	return id, nil
}

func printf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
