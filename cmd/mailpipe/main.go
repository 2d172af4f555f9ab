package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/nhle/mailpipe/internal/apperr"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn("could not read .env", "error", err)
	}

	if err := run(); err != nil {
		e := apperr.From(err)
		fmt.Fprintln(os.Stderr, apperr.Describe(e))
		os.Exit(e.Category.ExitCode())
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := &env{}
	defer e.Close()

	err := newRootCmd(e).ExecuteContext(ctx)
	if err != nil {
		e.log().Debug("command failed", "error", err)
	}
	return err
}
