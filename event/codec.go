// Package event encodes and decodes detection events for the message bus.
//
// The wire format is JSON. Each detection carries a "type" tag selecting the
// variant (bbox, keypoints, segmentation). Decoding is forward compatible:
// a detection with an unknown tag is skipped, never failing the whole event,
// so older consumers survive newer producers.
package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"ezliveAnalytics/models"
)

var ErrEmptyPayload = errors.New("empty event payload")

// Encode serializes a DetectionEvent to its wire form.
func Encode(ev models.DetectionEvent) ([]byte, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode detection event: %w", err)
	}

	return b, nil
}

// Decode parses a wire payload back into a DetectionEvent. Detections with
// an unrecognized type tag are dropped; the returned count says how many.
func Decode(data []byte) (models.DetectionEvent, int, error) {
	var ev models.DetectionEvent
	if len(data) == 0 {
		return ev, 0, ErrEmptyPayload
	}

	var raw struct {
		models.DetectionEvent
		Detections []json.RawMessage `json:"detections"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return ev, 0, fmt.Errorf("decode detection event: %w", err)
	}

	ev = raw.DetectionEvent
	ev.Detections = nil

	skipped := 0
	for _, rd := range raw.Detections {
		var tag struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(rd, &tag); err != nil {
			skipped++
			continue
		}

		if !knownDetectionType(tag.Type) {
			skipped++
			continue
		}

		var d models.Detection
		if err := json.Unmarshal(rd, &d); err != nil {
			skipped++
			continue
		}

		ev.Detections = append(ev.Detections, d)
	}

	return ev, skipped, nil
}

func knownDetectionType(t string) bool {
	switch t {
	case models.DETECTION_BBOX, models.DETECTION_KEYPOINTS, models.DETECTION_SEGMENTATION:
		return true
	}

	return false
}
