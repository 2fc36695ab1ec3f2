package export

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"ezliveAnalytics/event"
	"ezliveAnalytics/models"
)

func archiveEvent(sourceId int, frameId int) models.DetectionEvent {
	return models.DetectionEvent{
		SourceId: sourceId,
		FrameId:  frameId,
		Detections: []models.Detection{
			{Type: models.DETECTION_BBOX, ClassName: "person", Confidence: 0.9},
		},
	}
}

// stubUpload captures uploads without touching S3.
type stubUpload struct {
	err   error
	keys  []string
	lines [][]string
}

func (u *stubUpload) upload(ctx context.Context, key string, body io.Reader) error {
	if u.err != nil {
		return u.err
	}

	var lines []string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	u.keys = append(u.keys, key)
	u.lines = append(u.lines, lines)
	return nil
}

func newTestArchiver(batchSize int) (*S3Archiver, *stubUpload) {
	stub := &stubUpload{}
	a := &S3Archiver{Bucket: "analytics-archive", BatchSize: batchSize}
	a.upload = stub.upload
	return a, stub
}

func TestAddReportsDue(t *testing.T) {
	a, _ := newTestArchiver(3)

	for i := 0; i < 2; i++ {
		due, err := a.Add(archiveEvent(0, i))
		if err != nil {
			t.Fatal(err)
		}
		if due {
			t.Errorf("Batch of %d should not be due at size 3", i+1)
		}
	}

	due, err := a.Add(archiveEvent(0, 2))
	if err != nil {
		t.Fatal(err)
	}
	if !due {
		t.Error("Full batch should report due")
	}
	if a.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3", a.Pending())
	}
}

func TestFlushUploadsJsonLines(t *testing.T) {
	a, stub := newTestArchiver(10)

	a.Add(archiveEvent(3, 1))
	a.Add(archiveEvent(4, 2))

	if err := a.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if a.Pending() != 0 {
		t.Errorf("Pending() = %d after flush, want 0", a.Pending())
	}

	if len(stub.keys) != 1 {
		t.Fatalf("Expected one uploaded object, got %d", len(stub.keys))
	}
	key := stub.keys[0]
	if !strings.HasPrefix(key, "events/") || !strings.HasSuffix(key, ".jsonl") {
		t.Errorf("Unexpected object key %q", key)
	}

	lines := stub.lines[0]
	if len(lines) != 2 {
		t.Fatalf("Expected 2 JSON lines, got %d", len(lines))
	}
	for i, line := range lines {
		ev, _, err := event.Decode([]byte(line))
		if err != nil {
			t.Fatalf("Line %d does not decode: %v", i, err)
		}
		if ev.FrameId != i+1 {
			t.Errorf("Line %d decoded frame %d, want %d", i, ev.FrameId, i+1)
		}
	}
}

func TestFlushFailureRequeues(t *testing.T) {
	a, stub := newTestArchiver(10)
	stub.err = errors.New("s3 unreachable")

	a.Add(archiveEvent(3, 1))
	a.Add(archiveEvent(3, 2))

	if err := a.Flush(context.Background()); err == nil {
		t.Fatal("Flush should surface the upload failure")
	}
	if a.Pending() != 2 {
		t.Fatalf("Failed flush must requeue the batch, Pending() = %d", a.Pending())
	}

	// The retry uploads the same events in order.
	stub.err = nil
	if err := a.Flush(context.Background()); err != nil {
		t.Fatalf("Retry flush failed: %v", err)
	}
	if a.Pending() != 0 {
		t.Errorf("Pending() = %d after retry, want 0", a.Pending())
	}

	lines := stub.lines[0]
	if len(lines) != 2 {
		t.Fatalf("Expected 2 JSON lines on retry, got %d", len(lines))
	}
	ev, _, err := event.Decode([]byte(lines[0]))
	if err != nil || ev.FrameId != 1 {
		t.Errorf("Requeue changed event order: %v %+v", err, ev)
	}
}

func TestFlushEmptyIsNoOp(t *testing.T) {
	a, stub := newTestArchiver(10)

	if err := a.Flush(context.Background()); err != nil {
		t.Fatalf("Empty flush failed: %v", err)
	}
	if len(stub.keys) != 0 {
		t.Error("Empty flush must not upload")
	}
}
