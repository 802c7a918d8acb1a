package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pilotdesk/governance/internal/canonical"
)

// Producer is the subset of Kafka producer behavior the streamer needs.
type Producer interface {
	Produce(ctx context.Context, key, value []byte) (time.Time, error)
	Close() error
}

// StreamerConfig configures the DB-first audit streamer.
type StreamerConfig struct {
	// BatchSize is how many entries to claim per poll.
	BatchSize int

	// PollInterval applies when there is no pending work.
	PollInterval time.Duration

	// MaxConcurrency bounds concurrent produce/archive work per batch.
	MaxConcurrency int
}

// Streamer drains unstreamed audit entries from Postgres: each claimed entry
// is produced to Kafka (key = proposal ID) and archived to S3, then marked
// done so the database stays the source of truth for retries. This is the
// executor's subscription surface for approved proposals.
type Streamer struct {
	store    *PGStore
	producer Producer
	archiver Archiver
	cfg      StreamerConfig
	wg       sync.WaitGroup
}

func NewStreamer(store *PGStore, producer Producer, archiver Archiver, cfg StreamerConfig) *Streamer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	return &Streamer{store: store, producer: producer, archiver: archiver, cfg: cfg}
}

// Run blocks until ctx is cancelled, polling for pending entries and
// processing each batch with bounded concurrency.
func (s *Streamer) Run(ctx context.Context) error {
	log.Printf("[audit.streamer] starting (batch=%d, concurrency=%d)", s.cfg.BatchSize, s.cfg.MaxConcurrency)
	defer log.Printf("[audit.streamer] stopped")

	sem := make(chan struct{}, s.cfg.MaxConcurrency)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			if s.producer != nil {
				_ = s.producer.Close()
			}
			return ctx.Err()
		default:
		}

		entries, err := s.store.FetchPendingEntriesForStreaming(ctx, s.cfg.BatchSize)
		if err != nil {
			log.Printf("[audit.streamer] fetch pending: %v", err)
			time.Sleep(s.cfg.PollInterval)
			continue
		}
		if len(entries) == 0 {
			time.Sleep(s.cfg.PollInterval)
			continue
		}

		for i := range entries {
			sem <- struct{}{}
			s.wg.Add(1)
			go func(e *Entry) {
				defer func() {
					<-sem
					s.wg.Done()
				}()
				if err := s.processEntry(ctx, e); err != nil {
					log.Printf("[audit.streamer] process entry %s: %v", e.ID, err)
				}
			}(&entries[i])
		}

		// Drain the batch before claiming more so each batch completes in order.
		for i := 0; i < s.cfg.MaxConcurrency; i++ {
			sem <- struct{}{}
		}
		for i := 0; i < s.cfg.MaxConcurrency; i++ {
			<-sem
		}
	}
}

// processEntry produces and archives one claimed entry, recording the result
// so failures return to pending for retry.
func (s *Streamer) processEntry(parentCtx context.Context, e *Entry) error {
	ctx, cancel := context.WithTimeout(parentCtx, 30*time.Second)
	defer cancel()

	canonBytes, err := canonical.Marshal(envelope(e))
	if err != nil {
		s.markFailure(parentCtx, e, fmt.Sprintf("canonicalize entry: %v", err))
		return fmt.Errorf("canonicalize entry: %w", err)
	}

	producedAt, err := s.producer.Produce(ctx, []byte(e.ProposalID.String()), canonBytes)
	if err != nil {
		s.markFailure(parentCtx, e, fmt.Sprintf("kafka produce: %v", err))
		return fmt.Errorf("kafka produce: %w", err)
	}

	key, err := s.archiver.ArchiveEntry(ctx, e)
	if err != nil {
		s.markFailure(parentCtx, e, fmt.Sprintf("s3 archive: %v", err))
		return fmt.Errorf("s3 archive: %w", err)
	}

	archivedKey := sql.NullString{String: key, Valid: key != ""}
	if err := s.store.MarkEntryStreamResult(parentCtx, e.ID, archivedKey, true, sql.NullString{}); err != nil {
		return fmt.Errorf("mark entry streamed: %w", err)
	}

	log.Printf("[audit.streamer] entry %s streamed: produced_at=%s archived_key=%s", e.ID, producedAt.Format(time.RFC3339Nano), key)
	return nil
}

func (s *Streamer) markFailure(ctx context.Context, e *Entry, msg string) {
	errMsg := sql.NullString{String: msg, Valid: true}
	_ = s.store.MarkEntryStreamResult(ctx, e.ID, sql.NullString{}, false, errMsg)
}
