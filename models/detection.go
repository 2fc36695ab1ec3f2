package models

import (
	"time"
)

// Detection kind tags. The wire accepts any string; decoders skip detections
// whose tag they do not recognize so that older consumers survive newer
// producers.
const (
	DETECTION_BBOX         = "bbox"
	DETECTION_KEYPOINTS    = "keypoints"
	DETECTION_SEGMENTATION = "segmentation"
)

// BoundingBox in pixel coordinates of the source frame.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Keypoint is one named landmark with its own confidence.
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
}

// Detection is one detected object. Type selects the variant: a plain box,
// a keypoint set, or a segmentation mask. Every variant carries Box so that
// bbox-only consumers never need to inspect the variant tag.
type Detection struct {
	Type       string      `json:"type"`
	ClassName  string      `json:"className"`
	Confidence float64     `json:"confidence"`
	Box        BoundingBox `json:"bbox"`
	TrackerId  int         `json:"trackerId,omitempty"`

	// Keypoints is set when Type == DETECTION_KEYPOINTS.
	Keypoints []Keypoint `json:"keypoints,omitempty"`

	// MaskRLE is the run-length-encoded mask string, set when
	// Type == DETECTION_SEGMENTATION.
	MaskRLE    string `json:"maskRle,omitempty"`
	MaskWidth  int    `json:"maskWidth,omitempty"`
	MaskHeight int    `json:"maskHeight,omitempty"`
}

// DetectionEvent is one frame's worth of detections for one source. Consumers
// aggregate by SourceId, not by producer: two workers may both emit for the
// same source during a handover.
type DetectionEvent struct {
	SourceId           int         `json:"sourceId"`
	FrameId            int         `json:"frameId"`
	Timestamp          time.Time   `json:"timestamp"`
	ProducerInstanceId string      `json:"producerInstanceId"`
	ModelId            string      `json:"modelId"`
	Detections         []Detection `json:"detections"`
}
