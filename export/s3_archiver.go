package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/google/uuid"

	"ezliveAnalytics/event"
	"ezliveAnalytics/models"
)

// DefaultArchiveBatchSize is the number of events per uploaded object.
const DefaultArchiveBatchSize = 500

// S3Archiver accumulates detection events and uploads them as JSON-lines
// objects under events/<date>/. Intended for offline analytics, not the live
// path: Add never blocks on the network, only Flush touches S3.
type S3Archiver struct {
	Bucket    string
	BatchSize int

	// upload performs one object upload; tests substitute it.
	upload func(ctx context.Context, key string, body io.Reader) error

	mu    sync.Mutex
	batch [][]byte
}

// NewS3Archiver builds an archiver against the given AWS region and bucket.
func NewS3Archiver(region string, bucket string, batchSize int) (*S3Archiver, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("create AWS session: %w", err)
	}

	if batchSize <= 0 {
		batchSize = DefaultArchiveBatchSize
	}

	uploader := s3manager.NewUploader(sess)
	a := &S3Archiver{
		Bucket:    bucket,
		BatchSize: batchSize,
	}
	a.upload = func(ctx context.Context, key string, body io.Reader) error {
		_, err := uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket: aws.String(a.Bucket),
			Key:    aws.String(key),
			Body:   body,
		})
		return err
	}

	return a, nil
}

// Add appends one event to the pending batch and reports whether the batch
// is now full and due for a Flush.
func (a *S3Archiver) Add(ev models.DetectionEvent) (bool, error) {
	b, err := event.Encode(ev)
	if err != nil {
		return false, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.batch = append(a.batch, b)
	return len(a.batch) >= a.BatchSize, nil
}

// Flush uploads the pending batch as one object and clears it. Flushing an
// empty batch is a no-op.
func (a *S3Archiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	batch := a.batch
	a.batch = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, line := range batch {
		buf.Write(line)
		buf.WriteByte('\n')
	}

	key := fmt.Sprintf("events/%s/batch-%s.jsonl",
		time.Now().UTC().Format("2006-01-02"), uuid.New().String())

	if err := a.upload(ctx, key, &buf); err != nil {
		// Put the batch back so a later Flush can retry.
		a.mu.Lock()
		a.batch = append(batch, a.batch...)
		a.mu.Unlock()
		return fmt.Errorf("upload archive batch to %s: %w", a.Bucket, err)
	}

	return nil
}

// Pending reports the number of events waiting for a Flush.
func (a *S3Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.batch)
}
