// Package ai classifies and summarizes mail, remotely when a provider is
// configured and with deterministic local heuristics otherwise.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Label is the closed classification vocabulary.
type Label string

const (
	LabelUrgent    Label = "URGENT"
	LabelImportant Label = "IMPORTANT"
	LabelTask      Label = "TASK"
	LabelPromotion Label = "PROMOTION"
	LabelSpam      Label = "SPAM"
	LabelGray      Label = "GRAY"
)

// Labels lists every label in fallback priority order.
var Labels = []Label{LabelSpam, LabelUrgent, LabelTask, LabelPromotion, LabelImportant, LabelGray}

// ParseLabel maps s onto the vocabulary. Anything unknown becomes GRAY.
func ParseLabel(s string) Label {
	switch l := Label(strings.ToUpper(strings.TrimSpace(s))); l {
	case LabelUrgent, LabelImportant, LabelTask, LabelPromotion, LabelSpam, LabelGray:
		return l
	default:
		return LabelGray
	}
}

// Classification is a label with the classifier's confidence in [0, 1].
type Classification struct {
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Input is the structured text a message is classified from.
type Input struct {
	Subject string
	Sender  string
	Content string
}

// Text joins the fields for keyword matching and summarization.
func (in Input) Text() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{in.Subject, in.Content, in.Sender} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// Tone selects a rewrite style.
type Tone string

const (
	ToneFormal Tone = "formal"
	ToneCasual Tone = "casual"
)

// Capability is an annotation provider.
type Capability interface {
	Classify(ctx context.Context, in Input) (Classification, error)
	Summarize(ctx context.Context, text string) (string, error)
	Rewrite(ctx context.Context, text string, tone Tone) (string, error)
}

// CapabilityUnavailableError reports a remote failure: timeout, transport
// error, bad status or an unparseable answer.
type CapabilityUnavailableError struct {
	Op  string
	Err error
}

func (e *CapabilityUnavailableError) Error() string {
	return fmt.Sprintf("ai %s unavailable: %v", e.Op, e.Err)
}

func (e *CapabilityUnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is a CapabilityUnavailableError.
func IsUnavailable(err error) bool {
	var ue *CapabilityUnavailableError
	return errors.As(err, &ue)
}
