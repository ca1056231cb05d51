// Package facematch compares faces by the geometry of their landmarks.
// It turns raw landmark captures into frame-invariant feature sets and scores
// two feature sets against each other.
package facematch

// Point is a 2D coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Frame is the bounding box a capture's landmarks were reported in.
type Frame struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Landmark names a facial point the capture layer may report.
type Landmark string

const (
	LeftEye     Landmark = "left_eye"
	RightEye    Landmark = "right_eye"
	NoseBase    Landmark = "nose_base"
	MouthLeft   Landmark = "mouth_left"
	MouthRight  Landmark = "mouth_right"
	MouthBottom Landmark = "mouth_bottom"
)

// RawLandmarkCapture is the canonical form of a landmark payload: points in
// capture coordinates plus the frame they were measured in. Every payload
// shape accepted at the boundary is converted into this before normalization.
type RawLandmarkCapture struct {
	Frame  Frame
	Points map[Landmark]Point
}

// Features is a normalized, frame-invariant description of a face.
// Nil fields were not available in the capture.
type Features struct {
	LeftEye     *Point `json:"left_eye,omitempty"`
	RightEye    *Point `json:"right_eye,omitempty"`
	Nose        *Point `json:"nose,omitempty"`
	MouthLeft   *Point `json:"mouth_left,omitempty"`
	MouthRight  *Point `json:"mouth_right,omitempty"`
	MouthBottom *Point `json:"mouth_bottom,omitempty"`

	EyeDistance       *float64 `json:"eye_distance,omitempty"`
	EyeNoseDistance   *float64 `json:"eye_nose_distance,omitempty"`
	MouthNoseDistance *float64 `json:"mouth_nose_distance,omitempty"`
	AspectRatio       *float64 `json:"aspect_ratio,omitempty"`
}
