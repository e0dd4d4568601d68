package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/canvasadmin/canvasadmin/internal/models"
)

// AttemptWriter records the lifecycle of index attempts.
type AttemptWriter interface {
	Create(ctx context.Context, connectorID, credentialID int64) (models.IndexAttempt, error)
	MarkInProgress(ctx context.Context, id int64) error
	MarkSucceeded(ctx context.Context, id int64, newDocs, totalDocs int) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}

// DocumentWriter persists emitted documents and reports how many were new.
type DocumentWriter interface {
	Upsert(ctx context.Context, connectorID int64, docs []models.Document) (int, error)
}

// Recorder observes finished runs.
type Recorder interface {
	RecordIndexAttempt(source, status string, docs int)
}

// RunResult summarises one finished run.
type RunResult struct {
	AttemptID int64
	NewDocs   int
	TotalDocs int
	Duration  time.Duration
}

// Pipeline runs a connector for one connector-credential pair and records the
// outcome as an index attempt.
type Pipeline struct {
	factory   *Factory
	attempts  AttemptWriter
	documents DocumentWriter
	recorder  Recorder
	logger    *slog.Logger
}

// NewPipeline creates a pipeline. recorder may be nil.
func NewPipeline(factory *Factory, attempts AttemptWriter, documents DocumentWriter, recorder Recorder, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		factory:   factory,
		attempts:  attempts,
		documents: documents,
		recorder:  recorder,
		logger:    logger,
	}
}

// Run indexes conn with cred. The attempt is marked failed whenever the run
// does not complete, including on cancellation.
func (p *Pipeline) Run(ctx context.Context, conn models.Connector, cred models.Credential) (RunResult, error) {
	attempt, err := p.attempts.Create(ctx, conn.ID, cred.ID)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to create index attempt: %w", err)
	}
	result := RunResult{AttemptID: attempt.ID}
	logger := p.logger.With("connector_id", conn.ID, "credential_id", cred.ID, "attempt_id", attempt.ID)

	if err := p.attempts.MarkInProgress(ctx, attempt.ID); err != nil {
		return result, err
	}

	start := time.Now()
	logger.Info("index attempt started", "source", conn.Source)

	runErr := p.load(ctx, conn, cred, &result)
	result.Duration = time.Since(start)

	if runErr != nil {
		// The run context may be gone; the failure must still be recorded.
		markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := p.attempts.MarkFailed(markCtx, attempt.ID, runErr.Error()); err != nil {
			logger.Error("failed to record failed attempt", "error", err)
		}
		p.record(conn.Source, models.IndexingStatusFailed, result.NewDocs)
		logger.Error("index attempt failed", "error", runErr, "duration", result.Duration)
		return result, runErr
	}

	if err := p.attempts.MarkSucceeded(ctx, attempt.ID, result.NewDocs, result.TotalDocs); err != nil {
		return result, err
	}
	p.record(conn.Source, models.IndexingStatusSuccess, result.NewDocs)
	logger.Info("index attempt succeeded",
		"new_docs", result.NewDocs,
		"total_docs", result.TotalDocs,
		"duration", result.Duration,
	)
	return result, nil
}

func (p *Pipeline) load(ctx context.Context, conn models.Connector, cred models.Credential, result *RunResult) (err error) {
	// A panicking connector fails its attempt instead of the process.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("connector panicked: %v", r)
		}
	}()

	lc, err := p.factory.Build(conn, cred)
	if err != nil {
		return err
	}

	dedup := newRunDeduplicator()
	defer func() {
		if n := dedup.ContentRepeats(); n > 0 {
			p.logger.Debug("documents with repeated text", "connector_id", conn.ID, "count", n)
		}
	}()
	return lc.LoadFromState(ctx, func(batch []models.Document) error {
		docs := dedup.Filter(batch)
		if len(docs) == 0 {
			return nil
		}
		newDocs, err := p.documents.Upsert(ctx, conn.ID, docs)
		if err != nil {
			return fmt.Errorf("failed to store documents: %w", err)
		}
		result.NewDocs += newDocs
		result.TotalDocs += len(docs)
		p.logger.Debug("document batch stored", "connector_id", conn.ID, "batch", len(docs), "new", newDocs)
		return nil
	})
}

func (p *Pipeline) record(source models.DocumentSource, status models.IndexingStatus, docs int) {
	if p.recorder != nil {
		p.recorder.RecordIndexAttempt(string(source), string(status), docs)
	}
}
