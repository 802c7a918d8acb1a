package audit

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/pilotdesk/governance/internal/canonical"
)

// Archiver uploads canonical audit entry JSON to object storage.
type Archiver interface {
	ArchiveEntry(ctx context.Context, e *Entry) (objectKey string, err error)
}

// S3Archiver writes canonical audit entries to S3 paths like:
//
//	s3://<bucket>/<prefix>/governance/YYYY/MM/DD/<entryID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Archiver creates an S3Archiver using region/credentials from the
// environment (AWS_REGION, AWS_PROFILE, AWS_ACCESS_KEY_ID, ...).
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

func (s *S3Archiver) objectKey(e *Entry) string {
	ts := e.Ts
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	year, month, day := ts.Date()
	return path.Join(s.prefix, "governance",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%s.json", e.ID),
	)
}

// ArchiveEntry uploads the canonical JSON envelope of the entry and returns
// the object key for persistence alongside the entry row.
func (s *S3Archiver) ArchiveEntry(ctx context.Context, e *Entry) (string, error) {
	if e == nil {
		return "", fmt.Errorf("nil entry")
	}
	canonBytes, err := canonical.Marshal(envelope(e))
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}
	key := s.objectKey(e)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(canonBytes),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	return key, nil
}

// envelope is the canonical wire/archive shape of an entry, shared by the
// Kafka producer and the S3 archiver so consumers see one format.
func envelope(e *Entry) map[string]interface{} {
	env := map[string]interface{}{
		"id":          e.ID.String(),
		"proposalId":  e.ProposalID.String(),
		"workspaceId": e.WorkspaceID.String(),
		"event":       e.Event,
		"actor":       e.Actor,
		"prevHash":    e.PrevHash,
		"hash":        e.Hash,
		"ts":          e.Ts.Format(time.RFC3339Nano),
	}
	if len(e.Detail) > 0 {
		env["detail"] = e.Detail
	}
	return env
}
