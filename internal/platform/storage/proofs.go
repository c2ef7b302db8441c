package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// ProofUploader writes payment proof objects into Cloud Storage. Proofs are
// small files that pass through the API, so they are written server-side
// instead of via signed upload URLs.
type ProofUploader struct {
	client *gcs.Client
	bucket string
}

// NewProofUploader constructs a ProofUploader targeting the given bucket.
func NewProofUploader(client *gcs.Client, bucket string) (*ProofUploader, error) {
	if client == nil {
		return nil, errors.New("storage proofs: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage proofs: bucket is required")
	}
	return &ProofUploader{client: client, bucket: bucket}, nil
}

// StoreProof streams the proof body into the proofs prefix for the order and
// returns the gs:// URL of the stored object.
func (u *ProofUploader) StoreProof(ctx context.Context, orderID, fileName, contentType string, sizeBytes int64, body io.Reader) (string, error) {
	if u == nil || u.client == nil {
		return "", errors.New("storage proofs: uploader is not initialised")
	}
	if body == nil {
		return "", errors.New("storage proofs: body is required")
	}

	objectPath, err := BuildObjectPath(PurposePaymentProof, PathParams{
		OrderID:  orderID,
		FileName: fileName,
	})
	if err != nil {
		return "", err
	}

	writer := u.client.Bucket(u.bucket).Object(objectPath).NewWriter(ctx)
	writer.ContentType = strings.TrimSpace(contentType)
	if sizeBytes > 0 {
		// Refuse bodies that outgrow the declared size instead of storing a
		// truncated or oversized proof.
		body = io.LimitReader(body, sizeBytes)
	}

	if _, err := io.Copy(writer, body); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("storage proofs: write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("storage proofs: close object: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", u.bucket, objectPath), nil
}
