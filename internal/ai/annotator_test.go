package ai

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
)

type stubCapability struct {
	cls     Classification
	summary string
	err     error
	calls   int
}

func (s *stubCapability) Classify(context.Context, Input) (Classification, error) {
	s.calls++
	return s.cls, s.err
}

func (s *stubCapability) Summarize(context.Context, string) (string, error) {
	s.calls++
	return s.summary, s.err
}

func (s *stubCapability) Rewrite(_ context.Context, text string, _ Tone) (string, error) {
	s.calls++
	return "remote: " + text, s.err
}

func TestAnnotatorPrefersRemote(t *testing.T) {
	remote := &stubCapability{cls: Classification{Label: LabelImportant, Confidence: 0.99}, summary: "remote summary"}
	a := NewAnnotator(remote, log.New(io.Discard))

	assert.True(t, a.Remote())
	assert.Equal(t, LabelImportant, a.Classify(context.Background(), Input{Subject: "lottery winner"}).Label)
	assert.Equal(t, "remote summary", a.Summarize(context.Background(), "text"))
	assert.Equal(t, "remote: hi", a.Rewrite(context.Background(), "hi", ToneCasual))
	assert.Equal(t, 3, remote.calls)
}

func TestAnnotatorFallsBack(t *testing.T) {
	remote := &stubCapability{err: &CapabilityUnavailableError{Op: "classify", Err: errors.New("timeout")}}
	a := NewAnnotator(remote, log.New(io.Discard))

	cls := a.Classify(context.Background(), Input{Subject: "You are a lottery winner"})
	assert.Equal(t, LabelSpam, cls.Label)
	assert.InDelta(t, 0.9, cls.Confidence, 1e-9)

	assert.Equal(t, "plain text", a.Summarize(context.Background(), "plain text"))
	assert.Equal(t, "Hey, hi", a.Rewrite(context.Background(), "hi", ToneCasual))
}

func TestAnnotatorWithoutRemote(t *testing.T) {
	a := NewAnnotator(nil, nil)

	assert.False(t, a.Remote())
	assert.Equal(t, LabelGray, a.Classify(context.Background(), Input{Subject: "lunch photos"}).Label)
}
