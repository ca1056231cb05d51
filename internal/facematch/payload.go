package facematch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PayloadShape identifies which wire layout a landmark payload arrived in.
type PayloadShape string

const (
	// ShapeNamedPoints is {"frame": {...}, "leftEye": {"x":..,"y":..}, ...}.
	ShapeNamedPoints PayloadShape = "named_points"
	// ShapeLandmarkList is {"frame": {...}, "landmarks": [{"type": "LEFT_EYE", "position": {...}}]}.
	ShapeLandmarkList PayloadShape = "landmark_list"
	// ShapeFeatures is {"features": {...}} carrying an already normalized feature set.
	ShapeFeatures PayloadShape = "features"
)

// ErrAmbiguousPayload is returned when a payload matches more than one shape.
var ErrAmbiguousPayload = errors.New("landmark payload mixes features and landmarks")

// LandmarkPayload is a landmark sample as submitted by a client. Decoding
// resolves whichever shape was sent into either a canonical RawLandmarkCapture
// or a pre-normalized Features value; nothing downstream branches on the shape.
type LandmarkPayload struct {
	Shape    PayloadShape
	Capture  *RawLandmarkCapture
	Features *Features
}

// NewCapturePayload wraps a capture that was built in code rather than decoded.
func NewCapturePayload(c RawLandmarkCapture) *LandmarkPayload {
	return &LandmarkPayload{Shape: ShapeNamedPoints, Capture: &c}
}

// NewFeaturesPayload wraps an already normalized feature set.
func NewFeaturesPayload(f Features) *LandmarkPayload {
	return &LandmarkPayload{Shape: ShapeFeatures, Features: &f}
}

// Resolve returns the normalized feature set for the payload.
func (p *LandmarkPayload) Resolve() (Features, error) {
	switch {
	case p == nil:
		return Features{}, ErrNoLandmarks
	case p.Features != nil:
		if err := p.Features.Validate(); err != nil {
			return Features{}, err
		}
		return *p.Features, nil
	case p.Capture != nil:
		return Normalize(*p.Capture)
	default:
		return Features{}, ErrNoLandmarks
	}
}

// namedPointKeys maps the accepted JSON keys of the named-points shape.
var namedPointKeys = map[string]Landmark{
	"lefteye":     LeftEye,
	"righteye":    RightEye,
	"nosebase":    NoseBase,
	"nose":        NoseBase,
	"mouthleft":   MouthLeft,
	"mouthright":  MouthRight,
	"mouthbottom": MouthBottom,
}

// listTypeNames maps string landmark types of the list shape.
var listTypeNames = map[string]Landmark{
	"LEFT_EYE":     LeftEye,
	"RIGHT_EYE":    RightEye,
	"NOSE_BASE":    NoseBase,
	"MOUTH_LEFT":   MouthLeft,
	"MOUTH_RIGHT":  MouthRight,
	"MOUTH_BOTTOM": MouthBottom,
}

// listTypeCodes maps the numeric landmark codes mobile face detectors emit.
// Codes for cheeks and ears are accepted but not used.
var listTypeCodes = map[int]Landmark{
	0:  MouthBottom,
	4:  LeftEye,
	5:  MouthLeft,
	6:  NoseBase,
	10: RightEye,
	11: MouthRight,
}

type listEntry struct {
	Type     json.RawMessage `json:"type"`
	Position *Point          `json:"position"`
}

// UnmarshalJSON detects the payload shape and decodes it into canonical form.
func (p *LandmarkPayload) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode landmark payload: %w", err)
	}

	features, hasFeatures := fields["features"]
	landmarks, hasList := fields["landmarks"]
	if hasFeatures && hasList {
		return ErrAmbiguousPayload
	}

	switch {
	case hasFeatures:
		var f Features
		if err := json.Unmarshal(features, &f); err != nil {
			return fmt.Errorf("decode landmark features: %w", err)
		}
		*p = LandmarkPayload{Shape: ShapeFeatures, Features: &f}
		return nil
	case hasList:
		frame, err := decodeFrame(fields)
		if err != nil {
			return err
		}
		points, err := decodeList(landmarks)
		if err != nil {
			return err
		}
		*p = LandmarkPayload{Shape: ShapeLandmarkList, Capture: &RawLandmarkCapture{Frame: frame, Points: points}}
		return nil
	default:
		frame, err := decodeFrame(fields)
		if err != nil {
			return err
		}
		points, err := decodeNamed(fields)
		if err != nil {
			return err
		}
		*p = LandmarkPayload{Shape: ShapeNamedPoints, Capture: &RawLandmarkCapture{Frame: frame, Points: points}}
		return nil
	}
}

// MarshalJSON writes the payload back in the shape it was decoded from.
func (p LandmarkPayload) MarshalJSON() ([]byte, error) {
	if p.Features != nil {
		return json.Marshal(map[string]any{"features": p.Features})
	}
	if p.Capture == nil {
		return []byte("null"), nil
	}
	out := map[string]any{"frame": p.Capture.Frame}
	if p.Shape == ShapeLandmarkList {
		names := make(map[Landmark]string, len(listTypeNames))
		for k, v := range listTypeNames {
			names[v] = k
		}
		list := make([]map[string]any, 0, len(p.Capture.Points))
		for name, pt := range p.Capture.Points {
			list = append(list, map[string]any{"type": names[name], "position": pt})
		}
		out["landmarks"] = list
		return json.Marshal(out)
	}
	for name, pt := range p.Capture.Points {
		out[camelName(name)] = pt
	}
	return json.Marshal(out)
}

// decodeFrame reads the frame under any of its accepted keys.
func decodeFrame(fields map[string]json.RawMessage) (Frame, error) {
	for _, key := range []string{"frame", "bounds", "boundingBox"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			return Frame{}, fmt.Errorf("decode landmark frame: %w", err)
		}
		return f, nil
	}
	return Frame{}, ErrInvalidFrame
}

func decodeNamed(fields map[string]json.RawMessage) (map[Landmark]Point, error) {
	points := make(map[Landmark]Point)
	for key, raw := range fields {
		name, ok := namedPointKeys[strings.ToLower(strings.ReplaceAll(key, "_", ""))]
		if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		var pt Point
		if err := json.Unmarshal(raw, &pt); err != nil {
			return nil, fmt.Errorf("decode landmark %s: %w", key, err)
		}
		points[name] = pt
	}
	return points, nil
}

func decodeList(raw json.RawMessage) (map[Landmark]Point, error) {
	var entries []listEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode landmark list: %w", err)
	}
	points := make(map[Landmark]Point)
	for _, e := range entries {
		if e.Position == nil {
			continue
		}
		name, ok := listEntryName(e.Type)
		if !ok {
			continue
		}
		points[name] = *e.Position
	}
	return points, nil
}

// listEntryName accepts either a string or a numeric landmark type.
func listEntryName(raw json.RawMessage) (Landmark, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		name, ok := listTypeNames[strings.ToUpper(s)]
		return name, ok
	}
	var code int
	if err := json.Unmarshal(raw, &code); err == nil {
		name, ok := listTypeCodes[code]
		return name, ok
	}
	return "", false
}

func camelName(l Landmark) string {
	parts := strings.Split(string(l), "_")
	for i := 1; i < len(parts); i++ {
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}
