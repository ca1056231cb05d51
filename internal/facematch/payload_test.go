package facematch

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestLandmarkPayload_NamedPoints(t *testing.T) {
	data := `{
		"frame": {"left": 100, "top": 50, "width": 200, "height": 250},
		"leftEye": {"x": 160, "y": 140},
		"rightEye": {"x": 240, "y": 142},
		"noseBase": {"x": 200, "y": 190},
		"mouth_bottom": {"x": 200, "y": 255},
		"smile": 0.4
	}`

	var p LandmarkPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.Shape != ShapeNamedPoints {
		t.Errorf("shape = %q, want %q", p.Shape, ShapeNamedPoints)
	}
	if len(p.Capture.Points) != 4 {
		t.Errorf("points = %d, want 4", len(p.Capture.Points))
	}
	if p.Capture.Points[MouthBottom] != (Point{X: 200, Y: 255}) {
		t.Errorf("mouth bottom = %+v", p.Capture.Points[MouthBottom])
	}
}

func TestLandmarkPayload_List(t *testing.T) {
	data := `{
		"bounds": {"left": 100, "top": 50, "width": 200, "height": 250},
		"landmarks": [
			{"type": "LEFT_EYE", "position": {"x": 160, "y": 140}},
			{"type": 10, "position": {"x": 240, "y": 142}},
			{"type": 6, "position": {"x": 200, "y": 190}},
			{"type": "LEFT_EAR", "position": {"x": 100, "y": 150}},
			{"type": "MOUTH_LEFT"}
		]
	}`

	var p LandmarkPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.Shape != ShapeLandmarkList {
		t.Errorf("shape = %q, want %q", p.Shape, ShapeLandmarkList)
	}
	want := map[Landmark]Point{
		LeftEye:  {X: 160, Y: 140},
		RightEye: {X: 240, Y: 142},
		NoseBase: {X: 200, Y: 190},
	}
	if len(p.Capture.Points) != len(want) {
		t.Fatalf("points = %v, want %v", p.Capture.Points, want)
	}
	for name, pt := range want {
		if p.Capture.Points[name] != pt {
			t.Errorf("%s = %+v, want %+v", name, p.Capture.Points[name], pt)
		}
	}
}

func TestLandmarkPayload_ShapesResolveIdentically(t *testing.T) {
	named := `{"frame": {"left": 0, "top": 0, "width": 100, "height": 120},
		"leftEye": {"x": 30, "y": 40}, "rightEye": {"x": 70, "y": 40}, "noseBase": {"x": 50, "y": 65}}`
	list := `{"frame": {"left": 0, "top": 0, "width": 100, "height": 120}, "landmarks": [
		{"type": "LEFT_EYE", "position": {"x": 30, "y": 40}},
		{"type": "RIGHT_EYE", "position": {"x": 70, "y": 40}},
		{"type": "NOSE_BASE", "position": {"x": 50, "y": 65}}]}`

	var a, b LandmarkPayload
	if err := json.Unmarshal([]byte(named), &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(list), &b); err != nil {
		t.Fatal(err)
	}
	fa, err := a.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	fb, err := b.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	if got := Similarity(fa, fb); math.Abs(got-1) > 1e-12 {
		t.Errorf("Similarity between shapes = %v, want 1", got)
	}
}

func TestLandmarkPayload_Features(t *testing.T) {
	data := `{"features": {"eye_distance": 0.4, "nose": {"x": 0, "y": 0.05}}}`

	var p LandmarkPayload
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.Shape != ShapeFeatures {
		t.Errorf("shape = %q, want %q", p.Shape, ShapeFeatures)
	}
	f, err := p.Resolve()
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if f.EyeDistance == nil || *f.EyeDistance != 0.4 {
		t.Errorf("eye distance = %v, want 0.4", f.EyeDistance)
	}
}

func TestLandmarkPayload_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"ambiguous", `{"features": {}, "landmarks": []}`, ErrAmbiguousPayload},
		{"missing frame", `{"leftEye": {"x": 1, "y": 2}}`, ErrInvalidFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p LandmarkPayload
			err := json.Unmarshal([]byte(tt.data), &p)
			if !errors.Is(err, tt.want) {
				t.Errorf("Unmarshal() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLandmarkPayload_ResolveUnusable(t *testing.T) {
	var p LandmarkPayload
	if err := json.Unmarshal([]byte(`{"frame": {"left": 0, "top": 0, "width": 0, "height": 10}, "nose": {"x": 1, "y": 1}}`), &p); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Resolve(); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Resolve() error = %v, want ErrInvalidFrame", err)
	}

	var nilPayload *LandmarkPayload
	if _, err := nilPayload.Resolve(); !errors.Is(err, ErrNoLandmarks) {
		t.Errorf("nil Resolve() error = %v, want ErrNoLandmarks", err)
	}
}

func TestLandmarkPayload_MarshalRoundTripKeepsShape(t *testing.T) {
	p := NewCapturePayload(sampleCapture())
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var back LandmarkPayload
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Shape != ShapeNamedPoints || len(back.Capture.Points) != len(p.Capture.Points) {
		t.Errorf("round trip = %+v", back)
	}
}
