package facematch

import (
	"math"
	"testing"
)

func sampleCapture() RawLandmarkCapture {
	return RawLandmarkCapture{
		Frame: Frame{Left: 100, Top: 50, Width: 200, Height: 250},
		Points: map[Landmark]Point{
			LeftEye:     {X: 160, Y: 140},
			RightEye:    {X: 240, Y: 142},
			NoseBase:    {X: 200, Y: 190},
			MouthLeft:   {X: 170, Y: 240},
			MouthRight:  {X: 230, Y: 241},
			MouthBottom: {X: 200, Y: 255},
		},
	}
}

func scaleCapture(c RawLandmarkCapture, k float64) RawLandmarkCapture {
	out := RawLandmarkCapture{
		Frame:  Frame{Left: c.Frame.Left * k, Top: c.Frame.Top * k, Width: c.Frame.Width * k, Height: c.Frame.Height * k},
		Points: make(map[Landmark]Point, len(c.Points)),
	}
	for name, p := range c.Points {
		out.Points[name] = Point{X: p.X * k, Y: p.Y * k}
	}
	return out
}

func mustNormalize(t *testing.T, c RawLandmarkCapture) Features {
	t.Helper()
	f, err := Normalize(c)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	return f
}

func TestNormalize_CentersOnFrame(t *testing.T) {
	f := mustNormalize(t, sampleCapture())

	// Frame center is (200, 175).
	if math.Abs(f.Nose.X-0) > 1e-9 || math.Abs(f.Nose.Y-0.06) > 1e-9 {
		t.Errorf("nose = %+v, want {0 0.06}", *f.Nose)
	}
	if math.Abs(f.LeftEye.X-(-0.2)) > 1e-9 {
		t.Errorf("left eye x = %v, want -0.2", f.LeftEye.X)
	}
	if f.AspectRatio == nil || math.Abs(*f.AspectRatio-0.8) > 1e-9 {
		t.Errorf("aspect ratio = %v, want 0.8", f.AspectRatio)
	}
}

func TestNormalize_DerivedFeatures(t *testing.T) {
	f := mustNormalize(t, sampleCapture())

	if f.EyeDistance == nil || f.EyeNoseDistance == nil || f.MouthNoseDistance == nil {
		t.Fatalf("expected all derived features, got %+v", f)
	}
	wantEye := math.Hypot(0.4, 2.0/250)
	if math.Abs(*f.EyeDistance-wantEye) > 1e-9 {
		t.Errorf("eye distance = %v, want %v", *f.EyeDistance, wantEye)
	}
	// Mouth bottom is preferred over the corner midpoint.
	wantMouth := (255.0 - 190.0) / 250
	if math.Abs(*f.MouthNoseDistance-wantMouth) > 1e-9 {
		t.Errorf("mouth-nose distance = %v, want %v", *f.MouthNoseDistance, wantMouth)
	}
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name    string
		capture RawLandmarkCapture
		want    error
	}{
		{
			name:    "zero width",
			capture: RawLandmarkCapture{Frame: Frame{Width: 0, Height: 10}, Points: map[Landmark]Point{LeftEye: {}}},
			want:    ErrInvalidFrame,
		},
		{
			name:    "negative height",
			capture: RawLandmarkCapture{Frame: Frame{Width: 10, Height: -1}, Points: map[Landmark]Point{LeftEye: {}}},
			want:    ErrInvalidFrame,
		},
		{
			name:    "no points",
			capture: RawLandmarkCapture{Frame: Frame{Width: 10, Height: 10}},
			want:    ErrNoLandmarks,
		},
		{
			name:    "non-finite point only",
			capture: RawLandmarkCapture{Frame: Frame{Width: 10, Height: 10}, Points: map[Landmark]Point{LeftEye: {X: math.NaN()}}},
			want:    ErrNoLandmarks,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.capture)
			if err != tt.want {
				t.Errorf("Normalize() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSimilarity_Identical(t *testing.T) {
	f := mustNormalize(t, sampleCapture())
	if got := Similarity(f, f); math.Abs(got-1) > 1e-12 {
		t.Errorf("Similarity(f, f) = %v, want 1", got)
	}
}

func TestSimilarity_ScaleInvariant(t *testing.T) {
	base := mustNormalize(t, sampleCapture())
	probe := sampleCapture()
	probe.Points[NoseBase] = Point{X: 205, Y: 195}
	other := mustNormalize(t, probe)
	want := Similarity(base, other)

	for _, k := range []float64{0.25, 2, 3.7, 10} {
		scaled := mustNormalize(t, scaleCapture(probe, k))
		if got := Similarity(base, scaled); math.Abs(got-want) > 1e-9 {
			t.Errorf("scale %v: Similarity = %v, want %v", k, got, want)
		}
	}
}

func TestSimilarity_PositionInvariant(t *testing.T) {
	base := mustNormalize(t, sampleCapture())
	shifted := sampleCapture()
	shifted.Frame.Left += 75
	shifted.Frame.Top -= 30
	for name, p := range shifted.Points {
		shifted.Points[name] = Point{X: p.X + 75, Y: p.Y - 30}
	}

	if got := Similarity(base, mustNormalize(t, shifted)); math.Abs(got-1) > 1e-9 {
		t.Errorf("Similarity after translation = %v, want 1", got)
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	a := mustNormalize(t, sampleCapture())
	c := sampleCapture()
	c.Points[LeftEye] = Point{X: 150, Y: 150}
	c.Points[MouthRight] = Point{X: 250, Y: 230}
	delete(c.Points, MouthBottom)
	b := mustNormalize(t, c)

	if ab, ba := Similarity(a, b), Similarity(b, a); math.Abs(ab-ba) > 1e-12 {
		t.Errorf("Similarity not symmetric: %v vs %v", ab, ba)
	}
}

func TestSimilarity_RenormalizesOverSharedFeatures(t *testing.T) {
	eye := 0.4
	a := Features{EyeDistance: &eye, AspectRatio: ptr(1.0)}
	b := Features{EyeDistance: &eye, Nose: &Point{}}

	// Only the eye distance is shared, so the score is its similarity alone.
	if got := Similarity(a, b); math.Abs(got-1) > 1e-12 {
		t.Errorf("Similarity = %v, want 1", got)
	}
}

func TestSimilarity_Weights(t *testing.T) {
	a := Features{EyeDistance: ptr(0.4), AspectRatio: ptr(1.0)}
	b := Features{EyeDistance: ptr(0.2), AspectRatio: ptr(1.0)}

	// eye: 1 - 0.2/0.4 = 0.5 at weight 0.20; aspect: 1 at weight 0.10.
	want := (0.20*0.5 + 0.10*1) / 0.30
	if got := Similarity(a, b); math.Abs(got-want) > 1e-12 {
		t.Errorf("Similarity = %v, want %v", got, want)
	}
}

func TestSimilarity_PositionalDistanceFloor(t *testing.T) {
	a := Features{Nose: &Point{X: -0.6, Y: -0.6}}
	b := Features{Nose: &Point{X: 0.6, Y: 0.6}}
	if got := Similarity(a, b); got != 0 {
		t.Errorf("Similarity = %v, want 0 for points further apart than 1.0", got)
	}
}

func TestSimilarity_NoSharedFeatures(t *testing.T) {
	a := Features{EyeDistance: ptr(0.3)}
	b := Features{Nose: &Point{}}
	if got := Similarity(a, b); got != 0 {
		t.Errorf("Similarity = %v, want 0", got)
	}
	if got := Similarity(Features{}, Features{}); got != 0 {
		t.Errorf("Similarity(empty, empty) = %v, want 0", got)
	}
}

func TestScalarSimilarity_NearZero(t *testing.T) {
	if got := scalarSimilarity(0, 0); got != 1 {
		t.Errorf("scalarSimilarity(0, 0) = %v, want 1", got)
	}
	if got := scalarSimilarity(0, 1e-9); math.IsNaN(got) || got < 0 || got > 1 {
		t.Errorf("scalarSimilarity(0, 1e-9) = %v, want value in [0,1]", got)
	}
}

func TestFeaturesValidate(t *testing.T) {
	if err := (&Features{}).Validate(); err != ErrNoLandmarks {
		t.Errorf("empty features: error = %v, want ErrNoLandmarks", err)
	}
	if err := (&Features{EyeDistance: ptr(math.Inf(1))}).Validate(); err != ErrNoLandmarks {
		t.Errorf("infinite feature: error = %v, want ErrNoLandmarks", err)
	}
	if err := (&Features{EyeDistance: ptr(0.3)}).Validate(); err != nil {
		t.Errorf("valid features: unexpected error %v", err)
	}
}
