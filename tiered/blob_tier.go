package tiered

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"

	"github.com/clinicflow/intake/questionnaire"
)

// BlobTier stores one JSON blob per questionnaire in a Cloud Storage
// bucket, keyed "{prefix}/{actionId}.json".
type BlobTier struct {
	bucket *storage.BucketHandle
	prefix string
}

// NewBlobTier wraps an existing storage client.
func NewBlobTier(client *storage.Client, bucketName, prefix string) *BlobTier {
	return &BlobTier{
		bucket: client.Bucket(bucketName),
		prefix: prefix,
	}
}

func (t *BlobTier) Name() string { return "blob-store" }

func (t *BlobTier) objectName(actionID string) string {
	return path.Join(t.prefix, actionID+".json")
}

func (t *BlobTier) Get(ctx context.Context, actionID string) (*questionnaire.Bundle, error) {
	reader, err := t.bucket.Object(t.objectName(actionID)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("blob for action %s: %w", actionID, questionnaire.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	var bundle questionnaire.Bundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode blob: %w", err)
	}
	return &bundle, nil
}

func (t *BlobTier) Put(ctx context.Context, actionID string, bundle *questionnaire.Bundle) error {
	raw, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to encode blob: %w", err)
	}

	writer := t.bucket.Object(t.objectName(actionID)).NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(raw); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close blob writer: %w", err)
	}
	return nil
}

func (t *BlobTier) Delete(ctx context.Context, actionID string) error {
	err := t.bucket.Object(t.objectName(actionID)).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
