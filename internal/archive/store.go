// Package archive copies raw conversation payloads to S3 after enrichment.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/wolfman30/callsync/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// PayloadRecord is one archived conversation.
type PayloadRecord struct {
	CallID         string          `json:"call_id"`
	ConversationID string          `json:"conversation_id"`
	AccountID      string          `json:"account_id"`
	CallerHash     string          `json:"caller_hash,omitempty"`
	Transcript     string          `json:"transcript,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	ArchivedAt     time.Time       `json:"archived_at"`
}

// ManifestEntry is one line of the monthly JSONL manifest.
type ManifestEntry struct {
	CallID         string `json:"call_id"`
	ConversationID string `json:"conversation_id"`
	AccountID      string `json:"account_id"`
	S3Key          string `json:"s3_key"`
	ArchivedAt     string `json:"archived_at"`
}

// Store archives conversation payloads to S3.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

// NewStore creates an archive Store. If bucket is empty, all operations are no-ops.
func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled returns true if archival is configured (bucket is set).
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// ArchivePayload writes the record as JSON to S3 and appends it to the manifest.
// The caller phone is stored hashed and the transcript scrubbed.
func (s *Store) ArchivePayload(ctx context.Context, record PayloadRecord, callerPhone string) error {
	if !s.Enabled() {
		return nil
	}
	if record.ArchivedAt.IsZero() {
		record.ArchivedAt = time.Now().UTC()
	}
	record.CallerHash = HashPhone(callerPhone)
	record.Transcript = ScrubPII(record.Transcript)

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	now := record.ArchivedAt
	s3Key := fmt.Sprintf("calls/v1/by-date/%d/%02d/%02d/%s.json",
		now.Year(), now.Month(), now.Day(), record.ConversationID)

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s3Key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", s3Key, err)
	}

	s.logger.Info("archived conversation payload to S3",
		"call_id", record.CallID,
		"conversation_id", record.ConversationID,
		"s3_key", s3Key,
	)

	entry := ManifestEntry{
		CallID:         record.CallID,
		ConversationID: record.ConversationID,
		AccountID:      record.AccountID,
		S3Key:          s3Key,
		ArchivedAt:     now.Format(time.RFC3339),
	}
	if err := s.AppendManifest(ctx, entry, now); err != nil {
		s.logger.Warn("failed to append manifest", "error", err, "conversation_id", record.ConversationID)
	}
	return nil
}

const manifestWriteAttempts = 3

// AppendManifest appends a JSONL line to the monthly manifest file.
// S3 has no append, so this is read-modify-write guarded by the object ETag.
// A read failure aborts the append rather than rewriting the manifest.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry, at time.Time) error {
	if !s.Enabled() {
		return nil
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	manifestKey := fmt.Sprintf("calls/v1/manifests/%d-%02d.jsonl", at.Year(), at.Month())
	for attempt := 1; ; attempt++ {
		err := s.appendManifestOnce(ctx, manifestKey, line)
		if err == nil {
			return nil
		}
		if !isWriteConflict(err) || attempt >= manifestWriteAttempts {
			return err
		}
		s.logger.Debug("manifest changed during append, retrying", "key", manifestKey, "attempt", attempt)
	}
}

func (s *Store) appendManifestOnce(ctx context.Context, manifestKey string, line []byte) error {
	existing, etag, err := s.readManifest(ctx, manifestKey)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	}
	if etag != "" {
		input.IfMatch = aws.String(etag)
	} else {
		input.IfNoneMatch = aws.String("*")
	}
	if _, err := s.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

// readManifest returns the current manifest and its ETag. A missing object
// is an empty manifest; every other failure is returned.
func (s *Store) readManifest(ctx context.Context, manifestKey string) ([]byte, string, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("archive: s3 get manifest %s: %w", manifestKey, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("archive: read manifest %s: %w", manifestKey, err)
	}
	return data, aws.ToString(resp.ETag), nil
}

func isWriteConflict(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}
