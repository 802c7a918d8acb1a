package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

// fakeProducer implements the minimal Producer interface for tests.
type fakeProducer struct {
	produceFunc func(ctx context.Context, key, value []byte) (time.Time, error)
}

func (f *fakeProducer) Produce(ctx context.Context, key, value []byte) (time.Time, error) {
	if f.produceFunc != nil {
		return f.produceFunc(ctx, key, value)
	}
	return time.Now().UTC(), nil
}

func (f *fakeProducer) Close() error { return nil }

// fakeArchiver implements Archiver for tests.
type fakeArchiver struct {
	archiveFunc func(ctx context.Context, e *Entry) (string, error)
}

func (f *fakeArchiver) ArchiveEntry(ctx context.Context, e *Entry) (string, error) {
	if f.archiveFunc != nil {
		return f.archiveFunc(ctx, e)
	}
	return "governance/2026/08/30/test.json", nil
}

func sampleEntry() *Entry {
	return &Entry{
		ID:          uuid.New(),
		ProposalID:  uuid.New(),
		WorkspaceID: uuid.New(),
		Event:       EventAutoApproved,
		Actor:       ActorSystem,
		Hash:        "deadbeef",
		Ts:          time.Now().UTC(),
	}
}

func TestProcessEntry_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	var producedKey []byte
	prod := &fakeProducer{
		produceFunc: func(ctx context.Context, key, value []byte) (time.Time, error) {
			producedKey = key
			return time.Now().UTC(), nil
		},
	}
	arch := &fakeArchiver{}

	streamer := NewStreamer(NewPGStore(db), prod, arch, StreamerConfig{
		BatchSize:      1,
		MaxConcurrency: 1,
		PollInterval:   1 * time.Second,
	})

	e := sampleEntry()

	// Expect the success-path UPDATE executed by MarkEntryStreamResult.
	mock.ExpectExec("UPDATE\\s+audit_entries").
		WithArgs(sqlmock.AnyArg(), e.ID).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := streamer.processEntry(context.Background(), e); err != nil {
		t.Fatalf("processEntry error: %v", err)
	}
	if string(producedKey) != e.ProposalID.String() {
		t.Fatalf("expected messages keyed by proposal ID, got %q", producedKey)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessEntry_ProducerFail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	prod := &fakeProducer{
		produceFunc: func(ctx context.Context, key, value []byte) (time.Time, error) {
			return time.Time{}, errors.New("producer failure")
		},
	}
	archiveCalled := false
	arch := &fakeArchiver{
		archiveFunc: func(ctx context.Context, e *Entry) (string, error) {
			archiveCalled = true
			return "", nil
		},
	}

	streamer := NewStreamer(NewPGStore(db), prod, arch, StreamerConfig{
		BatchSize:      1,
		MaxConcurrency: 1,
		PollInterval:   1 * time.Second,
	})

	e := sampleEntry()

	// Expect the failure-path UPDATE putting the entry back to pending.
	mock.ExpectExec("UPDATE\\s+audit_entries").
		WithArgs(sqlmock.AnyArg(), e.ID).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := streamer.processEntry(context.Background(), e); err == nil {
		t.Fatalf("expected error from processEntry due to producer failure, got nil")
	}
	if archiveCalled {
		t.Fatalf("archiver must not run when produce fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessEntry_ArchiverFail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	prod := &fakeProducer{}
	arch := &fakeArchiver{
		archiveFunc: func(ctx context.Context, e *Entry) (string, error) {
			return "", errors.New("s3 unavailable")
		},
	}

	streamer := NewStreamer(NewPGStore(db), prod, arch, StreamerConfig{
		BatchSize:      1,
		MaxConcurrency: 1,
		PollInterval:   1 * time.Second,
	})

	e := sampleEntry()

	mock.ExpectExec("UPDATE\\s+audit_entries").
		WithArgs(sqlmock.AnyArg(), e.ID).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := streamer.processEntry(context.Background(), e); err == nil {
		t.Fatalf("expected error from processEntry due to archiver failure, got nil")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
