package ai

import (
	"context"
	"io"

	"github.com/charmbracelet/log"
)

// Annotator runs the remote capability when one is configured and falls
// back to Heuristic on any failure. Its methods never return an error.
type Annotator struct {
	remote   Capability
	fallback Heuristic
	logger   *log.Logger
}

// NewAnnotator wraps remote, which may be nil.
func NewAnnotator(remote Capability, logger *log.Logger) *Annotator {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Annotator{remote: remote, logger: logger}
}

// Remote reports whether a remote capability is configured.
func (a *Annotator) Remote() bool { return a.remote != nil }

// Classify labels in. Remote answers outside the vocabulary have already
// been coerced to GRAY by the parser.
func (a *Annotator) Classify(ctx context.Context, in Input) Classification {
	if a.remote != nil {
		cls, err := a.remote.Classify(ctx, in)
		if err == nil {
			return cls
		}
		a.logger.Warn("classification fell back to heuristics", "err", err)
	}
	cls, _ := a.fallback.Classify(ctx, in)
	return cls
}

// Summarize returns a summary of text.
func (a *Annotator) Summarize(ctx context.Context, text string) string {
	if a.remote != nil {
		out, err := a.remote.Summarize(ctx, text)
		if err == nil {
			return out
		}
		a.logger.Warn("summary fell back to truncation", "err", err)
	}
	out, _ := a.fallback.Summarize(ctx, text)
	return out
}

// Rewrite restyles text in tone.
func (a *Annotator) Rewrite(ctx context.Context, text string, tone Tone) string {
	if a.remote != nil {
		out, err := a.remote.Rewrite(ctx, text, tone)
		if err == nil {
			return out
		}
		a.logger.Warn("rewrite fell back to template", "err", err)
	}
	out, _ := a.fallback.Rewrite(ctx, text, tone)
	return out
}
