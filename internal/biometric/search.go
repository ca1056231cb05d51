package biometric

import (
	"github.com/kozaktomas/presence/internal/constants"
	"github.com/kozaktomas/presence/internal/facematch"
)

// ScoreFunc scores one candidate. ok=false means the candidate cannot be
// compared with the sample and is skipped.
type ScoreFunc func(p *Profile) (score float64, ok bool)

// SearchResult is the outcome of a candidate scan.
type SearchResult struct {
	Match     *MatchResult
	Scanned   int
	Skipped   int
	EarlyExit bool
}

// FindBest scans candidates in order and returns the highest-scoring one at or
// above threshold. The current best is only replaced by a strictly greater
// score. As soon as a qualifying candidate reaches constants.EarlyExitSimilarity
// the scan stops and that candidate is returned, even if a later candidate
// would have scored higher.
func FindBest(candidates []*Profile, score ScoreFunc, threshold float64, signal Signal) SearchResult {
	var res SearchResult
	best := -1.0

	for _, c := range candidates {
		s, ok := score(c)
		if !ok {
			res.Skipped++
			continue
		}
		res.Scanned++

		if s < threshold || s <= best {
			continue
		}
		best = s
		res.Match = &MatchResult{IdentityID: c.IdentityID, Similarity: s, Signal: signal}
		if s >= constants.EarlyExitSimilarity {
			res.EarlyExit = true
			return res
		}
	}

	return res
}

// SearchEmbedding finds the best embedding match. Candidates whose embedding
// length differs from the sample are skipped; if every candidate was skipped
// for that reason the result carries ErrDimensionMismatch.
func SearchEmbedding(sample []float32, candidates []*Profile, threshold float64) (SearchResult, error) {
	if err := ValidateEmbedding(sample); err != nil {
		return SearchResult{}, err
	}

	res := FindBest(candidates, func(p *Profile) (float64, bool) {
		if len(p.Embedding) != len(sample) {
			return 0, false
		}
		return cosine(sample, p.Embedding), true
	}, threshold, SignalEmbedding)

	if res.Scanned == 0 && res.Skipped > 0 {
		return res, ErrDimensionMismatch
	}
	return res, nil
}

// SearchLandmarks finds the best landmark-geometry match.
func SearchLandmarks(sample facematch.Features, candidates []*Profile, threshold float64) SearchResult {
	return FindBest(candidates, func(p *Profile) (float64, bool) {
		if p.Landmarks == nil {
			return 0, false
		}
		return facematch.Similarity(sample, *p.Landmarks), true
	}, threshold, SignalLandmark)
}

// exclude drops the given identity from a candidate list.
func exclude(candidates []*Profile, identityID string) []*Profile {
	if identityID == "" {
		return candidates
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		if c.IdentityID != identityID {
			out = append(out, c)
		}
	}
	return out
}
