package facematch

import (
	"errors"
	"math"
)

var (
	// ErrInvalidFrame is returned when a capture frame has no usable area.
	ErrInvalidFrame = errors.New("landmark frame must have positive width and height")
	// ErrNoLandmarks is returned when a capture or feature set carries nothing to compare.
	ErrNoLandmarks = errors.New("no usable landmarks")
)

// epsilon keeps relative differences finite for near-zero magnitudes.
const epsilon = 1e-6

// Feature weights. The table is part of the stored-profile contract: changing
// a value changes every landmark score already relied on by enrolled profiles.
const (
	weightEyeDistance       = 0.20
	weightEyeNoseDistance   = 0.15
	weightMouthNoseDistance = 0.15
	weightAspectRatio       = 0.10
	weightLeftEye           = 0.10
	weightRightEye          = 0.10
	weightNose              = 0.10
	weightMouthLeft         = 0.05
	weightMouthRight        = 0.05
)

// positionScale is the normalized distance at which two points are considered
// completely different.
const positionScale = 1.0

// Normalize recenters every landmark on the frame center and rescales it by
// the frame size, then derives the scalar features used for comparison.
// The resulting coordinates fall roughly in [-0.5, 0.5] for points inside the frame.
func Normalize(c RawLandmarkCapture) (Features, error) {
	f := c.Frame
	if !finite(f.Left, f.Top, f.Width, f.Height) || f.Width <= 0 || f.Height <= 0 {
		return Features{}, ErrInvalidFrame
	}

	cx := f.Left + f.Width/2
	cy := f.Top + f.Height/2
	norm := func(name Landmark) *Point {
		p, ok := c.Points[name]
		if !ok || !finite(p.X, p.Y) {
			return nil
		}
		return &Point{X: (p.X - cx) / f.Width, Y: (p.Y - cy) / f.Height}
	}

	out := Features{
		LeftEye:     norm(LeftEye),
		RightEye:    norm(RightEye),
		Nose:        norm(NoseBase),
		MouthLeft:   norm(MouthLeft),
		MouthRight:  norm(MouthRight),
		MouthBottom: norm(MouthBottom),
	}
	if out.LeftEye == nil && out.RightEye == nil && out.Nose == nil &&
		out.MouthLeft == nil && out.MouthRight == nil && out.MouthBottom == nil {
		return Features{}, ErrNoLandmarks
	}

	if out.LeftEye != nil && out.RightEye != nil {
		out.EyeDistance = ptr(distance(*out.LeftEye, *out.RightEye))
	}
	if out.Nose != nil {
		var sum float64
		var n int
		for _, eye := range []*Point{out.LeftEye, out.RightEye} {
			if eye != nil {
				sum += distance(*eye, *out.Nose)
				n++
			}
		}
		if n > 0 {
			out.EyeNoseDistance = ptr(sum / float64(n))
		}
		if mouth := out.mouthCenter(); mouth != nil {
			out.MouthNoseDistance = ptr(distance(*mouth, *out.Nose))
		}
	}
	out.AspectRatio = ptr(f.Width / f.Height)

	return out, nil
}

// mouthCenter prefers the reported mouth bottom and falls back to the midpoint
// of the mouth corners.
func (f *Features) mouthCenter() *Point {
	if f.MouthBottom != nil {
		return f.MouthBottom
	}
	if f.MouthLeft != nil && f.MouthRight != nil {
		return &Point{X: (f.MouthLeft.X + f.MouthRight.X) / 2, Y: (f.MouthLeft.Y + f.MouthRight.Y) / 2}
	}
	return nil
}

// Empty reports whether the feature set has nothing a comparison could use.
func (f *Features) Empty() bool {
	return f.LeftEye == nil && f.RightEye == nil && f.Nose == nil &&
		f.MouthLeft == nil && f.MouthRight == nil &&
		f.EyeDistance == nil && f.EyeNoseDistance == nil &&
		f.MouthNoseDistance == nil && f.AspectRatio == nil
}

// Validate checks that a feature set is usable as a stored or presented sample.
func (f *Features) Validate() error {
	if f == nil || f.Empty() {
		return ErrNoLandmarks
	}
	for _, p := range []*Point{f.LeftEye, f.RightEye, f.Nose, f.MouthLeft, f.MouthRight, f.MouthBottom} {
		if p != nil && !finite(p.X, p.Y) {
			return ErrNoLandmarks
		}
	}
	for _, v := range []*float64{f.EyeDistance, f.EyeNoseDistance, f.MouthNoseDistance, f.AspectRatio} {
		if v != nil && !finite(*v) {
			return ErrNoLandmarks
		}
	}
	return nil
}

// Similarity scores two feature sets in [0, 1] as a weighted blend of
// per-feature similarities. Only features present on both sides contribute,
// to the sum and to the weight total alike. It is symmetric in its arguments.
func Similarity(a, b Features) float64 {
	var sum, total float64

	scalar := func(x, y *float64, w float64) {
		if x == nil || y == nil {
			return
		}
		sum += w * scalarSimilarity(*x, *y)
		total += w
	}
	position := func(p, q *Point, w float64) {
		if p == nil || q == nil {
			return
		}
		sum += w * (1 - math.Min(distance(*p, *q)/positionScale, 1))
		total += w
	}

	scalar(a.EyeDistance, b.EyeDistance, weightEyeDistance)
	scalar(a.EyeNoseDistance, b.EyeNoseDistance, weightEyeNoseDistance)
	scalar(a.MouthNoseDistance, b.MouthNoseDistance, weightMouthNoseDistance)
	scalar(a.AspectRatio, b.AspectRatio, weightAspectRatio)
	position(a.LeftEye, b.LeftEye, weightLeftEye)
	position(a.RightEye, b.RightEye, weightRightEye)
	position(a.Nose, b.Nose, weightNose)
	position(a.MouthLeft, b.MouthLeft, weightMouthLeft)
	position(a.MouthRight, b.MouthRight, weightMouthRight)

	if total == 0 {
		return 0
	}
	return sum / total
}

// scalarSimilarity is 1 minus the relative difference, floored at 0.
func scalarSimilarity(v1, v2 float64) float64 {
	denom := math.Max(math.Max(math.Abs(v1), math.Abs(v2)), epsilon)
	return 1 - math.Min(math.Abs(v1-v2)/denom, 1)
}

func distance(p, q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func ptr(v float64) *float64 {
	return &v
}
