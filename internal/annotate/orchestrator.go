// Package annotate turns unannotated messages into classify and
// summarize jobs and applies their results.
package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/nhle/mailpipe/internal/ai"
	"github.com/nhle/mailpipe/internal/credential"
	"github.com/nhle/mailpipe/internal/jobs"
	"github.com/nhle/mailpipe/internal/model"
	"github.com/nhle/mailpipe/internal/store"
)

// Store is the part of store.Store the orchestrator touches.
type Store interface {
	ListUnannotated(ctx context.Context, limit int) ([]model.Message, error)
	CountUnannotated(ctx context.Context) (int, error)
	GetMessage(ctx context.Context, id int64) (*model.Message, error)
	SetClassification(ctx context.Context, id int64, enc string, spam bool) error
	SetSummary(ctx context.Context, id int64, enc string) error
}

// Enqueuer dispatches jobs. *jobs.Pool implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind model.JobKind, messageID int64) (string, error)
	InFlight(ctx context.Context, messageID int64, kind model.JobKind) (bool, error)
}

// Registrar accepts job handlers. *jobs.Pool implements it.
type Registrar interface {
	Handle(kind model.JobKind, h jobs.Handler)
}

// JobHandle identifies one dispatched job.
type JobHandle struct {
	ID        string
	Kind      model.JobKind
	MessageID int64
}

// Orchestrator dispatches annotation work and runs the job handlers.
type Orchestrator struct {
	store     Store
	vault     *credential.Vault
	annotator *ai.Annotator
	queue     Enqueuer
	logger    *log.Logger
}

// New creates an Orchestrator.
func New(s Store, vault *credential.Vault, annotator *ai.Annotator, queue Enqueuer, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Orchestrator{
		store:     s,
		vault:     vault,
		annotator: annotator,
		queue:     queue,
		logger:    logger,
	}
}

// Register installs the classify and summarize handlers on r.
func (o *Orchestrator) Register(r Registrar) {
	r.Handle(model.JobClassify, o.Classify)
	r.Handle(model.JobSummarize, o.Summarize)
}

// EnqueueUnannotated dispatches jobs for up to batch unannotated
// messages: one per missing annotation, skipping kinds already in flight.
func (o *Orchestrator) EnqueueUnannotated(ctx context.Context, batch int) ([]JobHandle, error) {
	msgs, err := o.store.ListUnannotated(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("listing unannotated messages: %w", err)
	}

	var handles []JobHandle
	for _, m := range msgs {
		for _, kind := range missingKinds(m) {
			busy, err := o.queue.InFlight(ctx, m.ID, kind)
			if err != nil {
				return handles, err
			}
			if busy {
				continue
			}

			id, err := o.queue.Enqueue(ctx, kind, m.ID)
			if err != nil {
				return handles, err
			}
			handles = append(handles, JobHandle{ID: id, Kind: kind, MessageID: m.ID})
		}
	}

	if len(handles) > 0 {
		o.logger.Info("annotation jobs dispatched", "jobs", len(handles), "messages", len(msgs))
	}
	return handles, nil
}

// PollBatch returns up to limit unannotated messages without
// dispatching anything.
func (o *Orchestrator) PollBatch(ctx context.Context, limit int) ([]model.Message, error) {
	msgs, err := o.store.ListUnannotated(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unannotated messages: %w", err)
	}
	return msgs, nil
}

// Backlog counts messages still missing an annotation.
func (o *Orchestrator) Backlog(ctx context.Context) (int, error) {
	return o.store.CountUnannotated(ctx)
}

func missingKinds(m model.Message) []model.JobKind {
	var kinds []model.JobKind
	if m.ClassificationEnc == nil {
		kinds = append(kinds, model.JobClassify)
	}
	if m.SummaryEnc == nil {
		kinds = append(kinds, model.JobSummarize)
	}
	return kinds
}

// Classify is the classify job handler.
func (o *Orchestrator) Classify(ctx context.Context, job model.Job) error {
	m, err := o.load(ctx, job)
	if err != nil {
		return err
	}

	cls := o.annotator.Classify(ctx, inputOf(m))
	payload, err := json.Marshal(cls)
	if err != nil {
		return fmt.Errorf("encoding classification: %w", err)
	}

	enc, err := o.vault.EncryptString(string(payload))
	if err != nil {
		return fmt.Errorf("encrypting classification: %w", err)
	}

	err = o.store.SetClassification(ctx, m.ID, enc, cls.Label == ai.LabelSpam)
	if err != nil {
		return terminal(err)
	}
	o.logger.Debug("message classified", "message", m.ID, "label", cls.Label, "confidence", cls.Confidence)
	return nil
}

// Summarize is the summarize job handler.
func (o *Orchestrator) Summarize(ctx context.Context, job model.Job) error {
	m, err := o.load(ctx, job)
	if err != nil {
		return err
	}

	summary := o.annotator.Summarize(ctx, inputOf(m).Text())
	enc, err := o.vault.EncryptString(summary)
	if err != nil {
		return fmt.Errorf("encrypting summary: %w", err)
	}

	if err := o.store.SetSummary(ctx, m.ID, enc); err != nil {
		return terminal(err)
	}
	o.logger.Debug("message summarized", "message", m.ID)
	return nil
}

func (o *Orchestrator) load(ctx context.Context, job model.Job) (*model.Message, error) {
	m, err := o.store.GetMessage(ctx, job.MessageID)
	if err != nil {
		return nil, terminal(err)
	}
	return m, nil
}

// terminal marks store.ErrNotFound as permanent: the message was deleted
// and retrying cannot bring it back.
func terminal(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return jobs.Permanent(err)
	}
	return err
}

func inputOf(m *model.Message) ai.Input {
	return ai.Input{Subject: m.Subject, Sender: m.Sender, Content: m.Snippet}
}
