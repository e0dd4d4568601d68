package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/canvasadmin/canvasadmin/internal/ingestion"
	"github.com/canvasadmin/canvasadmin/internal/models"
)

// Store is the storage the scheduler reads.
type Store interface {
	ListConnectors(ctx context.Context) ([]models.Connector, error)
	GetConnector(ctx context.Context, id int64) (models.Connector, error)
	GetCredential(ctx context.Context, id int64) (models.Credential, error)
	ListPairs(ctx context.Context) ([]models.ConnectorCredentialPair, error)
	LatestAttempt(ctx context.Context, connectorID, credentialID int64) (*models.IndexAttempt, error)
	FailUnfinished(ctx context.Context, reason string) (int, error)
}

// Runner executes one index attempt.
type Runner interface {
	Run(ctx context.Context, conn models.Connector, cred models.Credential) (ingestion.RunResult, error)
}

type pairKey struct {
	connectorID  int64
	credentialID int64
}

// IndexScheduler starts index attempts for connector-credential pairs whose
// refresh interval has elapsed. A pair never has two attempts running at once.
type IndexScheduler struct {
	store  Store
	runner Runner
	tick   time.Duration
	logger *slog.Logger
	now    func() time.Time

	cron   *gocron.Scheduler
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	running map[pairKey]bool
	wg      sync.WaitGroup
}

// NewIndexScheduler creates a scheduler checking for due pairs every tick.
func NewIndexScheduler(store Store, runner Runner, tick time.Duration, logger *slog.Logger) *IndexScheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &IndexScheduler{
		store:   store,
		runner:  runner,
		tick:    tick,
		logger:  logger,
		now:     time.Now,
		cron:    gocron.NewScheduler(time.UTC),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[pairKey]bool),
	}
}

// Start fails attempts orphaned by a previous process and begins checking for
// due pairs.
func (s *IndexScheduler) Start(ctx context.Context) error {
	n, err := s.store.FailUnfinished(ctx, "indexing process restarted before the attempt finished")
	if err != nil {
		return fmt.Errorf("failed to clean up unfinished attempts: %w", err)
	}
	if n > 0 {
		s.logger.Warn("marked orphaned index attempts as failed", "count", n)
	}

	s.cron.SingletonModeAll()
	job, err := s.cron.Every(s.tick).Do(s.checkAndRun)
	if err != nil {
		return fmt.Errorf("failed to schedule index check: %w", err)
	}
	job.Tag("index-check")

	s.logger.Info("Starting index scheduler", "check_interval", s.tick)
	s.cron.StartAsync()
	return nil
}

// Stop halts scheduling, cancels running attempts and waits for them to record
// their outcome.
func (s *IndexScheduler) Stop() {
	s.cron.Stop()
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Index scheduler stopped")
}

// RunOnce starts an attempt for a linked pair now. A pair that is already
// running is left alone.
func (s *IndexScheduler) RunOnce(ctx context.Context, connectorID, credentialID int64) error {
	conn, err := s.store.GetConnector(ctx, connectorID)
	if err != nil {
		return err
	}
	cred, err := s.store.GetCredential(ctx, credentialID)
	if err != nil {
		return err
	}
	if !s.launch(conn, cred) {
		s.logger.Info("index attempt already running", "connector_id", connectorID, "credential_id", credentialID)
	}
	return nil
}

// Wait blocks until every launched attempt has finished.
func (s *IndexScheduler) Wait() {
	s.wg.Wait()
}

// checkAndRun launches attempts for every due pair.
func (s *IndexScheduler) checkAndRun() {
	ctx := s.ctx
	pairs, err := s.store.ListPairs(ctx)
	if err != nil {
		s.logger.Error("Failed to list connector credential pairs", "error", err)
		return
	}
	connectors, err := s.store.ListConnectors(ctx)
	if err != nil {
		s.logger.Error("Failed to list connectors", "error", err)
		return
	}
	byID := make(map[int64]models.Connector, len(connectors))
	for _, c := range connectors {
		byID[c.ID] = c
	}

	launched := 0
	for _, pair := range pairs {
		conn, ok := byID[pair.ConnectorID]
		if !ok {
			continue
		}
		due, err := s.due(ctx, conn, pair.CredentialID)
		if err != nil {
			s.logger.Error("Failed to check pair", "connector_id", conn.ID, "credential_id", pair.CredentialID, "error", err)
			continue
		}
		if !due {
			continue
		}
		cred, err := s.store.GetCredential(ctx, pair.CredentialID)
		if err != nil {
			s.logger.Error("Failed to load credential", "credential_id", pair.CredentialID, "error", err)
			continue
		}
		if s.launch(conn, cred) {
			launched++
		}
	}

	if launched > 0 {
		s.logger.Info("Launched index attempts", "count", launched)
	} else {
		s.logger.Debug("No connectors due for indexing")
	}
}

// due reports whether conn should be indexed for credentialID now.
func (s *IndexScheduler) due(ctx context.Context, conn models.Connector, credentialID int64) (bool, error) {
	if conn.Disabled || conn.RefreshFreq == nil {
		return false, nil
	}
	latest, err := s.store.LatestAttempt(ctx, conn.ID, credentialID)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return true, nil
	}
	if !latest.Status.Finished() {
		return false, nil
	}
	freq := time.Duration(*conn.RefreshFreq) * time.Second
	return s.now().Sub(latest.TimeUpdated) >= freq, nil
}

// launch starts an attempt unless the pair is already running.
func (s *IndexScheduler) launch(conn models.Connector, cred models.Credential) bool {
	key := pairKey{conn.ID, cred.ID}

	s.mu.Lock()
	if s.running[key] {
		s.mu.Unlock()
		return false
	}
	s.running[key] = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, key)
			s.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Index attempt panicked", "connector_id", conn.ID, "credential_id", cred.ID, "panic", r)
			}
		}()

		if _, err := s.runner.Run(s.ctx, conn, cred); err != nil {
			s.logger.Error("Index attempt failed", "connector_id", conn.ID, "credential_id", cred.ID, "error", err)
		}
	}()
	return true
}
