package biometric

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/presence/internal/facematch"
)

// at returns a unit vector whose cosine similarity to [1, 0] is c.
func at(c float64) []float32 {
	return []float32{float32(c), float32(math.Sqrt(1 - c*c))}
}

func embeddingProfile(id string, emb []float32) Profile {
	return Profile{
		IdentityID:       id,
		Embedding:        emb,
		Active:           true,
		BiometricEnabled: true,
		ApprovalStatus:   ApprovalApproved,
	}
}

func captureAt(offsetX, eyeSpread float64) facematch.RawLandmarkCapture {
	return facematch.RawLandmarkCapture{
		Frame: facematch.Frame{Left: 0, Top: 0, Width: 200, Height: 250},
		Points: map[facematch.Landmark]facematch.Point{
			facematch.LeftEye:     {X: 100 - eyeSpread + offsetX, Y: 90},
			facematch.RightEye:    {X: 100 + eyeSpread + offsetX, Y: 92},
			facematch.NoseBase:    {X: 100 + offsetX, Y: 140},
			facematch.MouthLeft:   {X: 70 + offsetX, Y: 190},
			facematch.MouthRight:  {X: 130 + offsetX, Y: 191},
			facematch.MouthBottom: {X: 100 + offsetX, Y: 205},
		},
	}
}

func landmarkProfile(t *testing.T, id string, c facematch.RawLandmarkCapture) Profile {
	t.Helper()
	f, err := facematch.Normalize(c)
	require.NoError(t, err)
	return Profile{
		IdentityID:       id,
		Landmarks:        &f,
		Active:           true,
		BiometricEnabled: true,
		ApprovalStatus:   ApprovalApproved,
	}
}

func population(t *testing.T, profiles ...Profile) *Population {
	t.Helper()
	pop, err := NewPopulation(profiles, 0)
	require.NoError(t, err)
	return pop
}
