package biometric

import (
	"errors"
	"fmt"

	"github.com/kozaktomas/presence/internal/constants"
)

// ErrPopulationTooLarge is returned when a caller hands over more active
// profiles than a single scan may visit. Callers must paginate or narrow the
// population instead of having it silently truncated.
var ErrPopulationTooLarge = errors.New("candidate population exceeds limit")

// Population is an immutable snapshot of the active, matchable profiles a
// request is evaluated against. Profiles created after the snapshot is taken
// are not visited.
type Population struct {
	profiles   []Profile
	embeddings []int
	landmarks  []int
	byDevice   map[string]int
	byHash     map[string][]int
	byIdentity map[string]int
	skipped    int
}

// NewPopulation filters profiles down to active, matchable ones and indexes
// them. Stored signals that fail validation are dropped from their profile
// rather than compared. maxSize <= 0 uses constants.MaxPopulation.
func NewPopulation(profiles []Profile, maxSize int) (*Population, error) {
	if maxSize <= 0 {
		maxSize = constants.MaxPopulation
	}

	p := &Population{
		profiles:   make([]Profile, 0, len(profiles)),
		byDevice:   make(map[string]int),
		byHash:     make(map[string][]int),
		byIdentity: make(map[string]int),
	}

	for i := range profiles {
		prof := profiles[i]
		if !prof.Active || prof.IdentityID == "" {
			p.skipped++
			continue
		}
		if _, dup := p.byIdentity[prof.IdentityID]; dup {
			p.skipped++
			continue
		}
		if len(prof.Embedding) > 0 && ValidateEmbedding(prof.Embedding) != nil {
			prof.Embedding = nil
		}
		if prof.Landmarks != nil && prof.Landmarks.Validate() != nil {
			prof.Landmarks = nil
		}
		if !prof.Matchable() {
			p.skipped++
			continue
		}
		if len(p.profiles) == maxSize {
			return nil, fmt.Errorf("%w: more than %d active profiles", ErrPopulationTooLarge, maxSize)
		}

		idx := len(p.profiles)
		p.profiles = append(p.profiles, prof)
		p.byIdentity[prof.IdentityID] = idx
		if len(prof.Embedding) > 0 {
			p.embeddings = append(p.embeddings, idx)
		}
		if prof.Landmarks != nil {
			p.landmarks = append(p.landmarks, idx)
		}
		if prof.DeviceKey != "" {
			// The storage layer keeps device keys unique among active
			// profiles; on a stale snapshot the first holder wins.
			if _, taken := p.byDevice[prof.DeviceKey]; !taken {
				p.byDevice[prof.DeviceKey] = idx
			}
		}
		if prof.LegacyHash != "" {
			p.byHash[prof.LegacyHash] = append(p.byHash[prof.LegacyHash], idx)
		}
	}

	return p, nil
}

// Len returns the number of profiles in the snapshot.
func (p *Population) Len() int {
	return len(p.profiles)
}

// Skipped returns how many input profiles were left out as inactive or unmatchable.
func (p *Population) Skipped() int {
	return p.skipped
}

// WithEmbedding returns the profiles carrying an embedding, in snapshot order.
func (p *Population) WithEmbedding() []*Profile {
	return p.pick(p.embeddings)
}

// WithLandmarks returns the profiles carrying landmark features, in snapshot order.
func (p *Population) WithLandmarks() []*Profile {
	return p.pick(p.landmarks)
}

// ByDeviceKey returns the profile bound to the device key, or nil.
func (p *Population) ByDeviceKey(key string) *Profile {
	if key == "" {
		return nil
	}
	idx, ok := p.byDevice[key]
	if !ok {
		return nil
	}
	return &p.profiles[idx]
}

// ByLegacyHash returns every profile carrying exactly the given hash.
func (p *Population) ByLegacyHash(hash string) []*Profile {
	if hash == "" {
		return nil
	}
	return p.pick(p.byHash[hash])
}

// ByIdentity returns the profile of the identity, or nil.
func (p *Population) ByIdentity(id string) *Profile {
	idx, ok := p.byIdentity[id]
	if !ok {
		return nil
	}
	return &p.profiles[idx]
}

func (p *Population) pick(idx []int) []*Profile {
	out := make([]*Profile, len(idx))
	for i, j := range idx {
		out[i] = &p.profiles[j]
	}
	return out
}
