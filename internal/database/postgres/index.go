package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/presence/internal/database"
	"github.com/kozaktomas/presence/internal/logging"
)

// profileStats identifies the state of the profile table a cached index was
// built from.
func (r *ProfileRepository) profileStats(ctx context.Context) (count int64, lastUpdated time.Time, err error) {
	err = r.pool.QueryRow(ctx,
		"SELECT COUNT(*), COALESCE(MAX(updated_at), 'epoch'::timestamptz) FROM biometric_profiles WHERE active",
	).Scan(&count, &lastUpdated)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to get profile stats: %w", err)
	}
	return count, lastUpdated, nil
}

// tryLoadIndex loads a saved index if its metadata matches the table.
func (r *ProfileRepository) tryLoadIndex(indexPath string, count int64, lastUpdated time.Time) bool {
	meta, err := database.LoadProfileIndexMetadata(indexPath)
	if err != nil {
		return false
	}
	if meta.ProfileCount != count || !meta.LastUpdated.Equal(lastUpdated) {
		r.log.Info("profile index on disk is stale",
			logging.Int("cached", int(meta.ProfileCount)),
			logging.Int("active", int(count)))
		return false
	}

	idx := database.NewProfileIndex()
	if err := idx.LoadWithMetadata(indexPath); err != nil {
		r.log.Warn("failed to load profile index", logging.Err(err))
		return false
	}
	r.index = idx
	r.log.Info("profile index loaded", logging.Int("count", idx.Count()))
	return true
}

// EnableIndex turns on the in-memory HNSW index for FindSimilar. With a
// non-empty indexPath a fresh index saved there is reused, and a rebuilt one
// is written back.
func (r *ProfileRepository) EnableIndex(ctx context.Context, indexPath string) error {
	return r.buildIndex(ctx, indexPath, true)
}

func (r *ProfileRepository) buildIndex(ctx context.Context, indexPath string, useSaved bool) error {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()

	r.indexPath = indexPath

	count, lastUpdated, err := r.profileStats(ctx)
	if err != nil {
		return err
	}

	if useSaved && indexPath != "" && r.tryLoadIndex(indexPath, count, lastUpdated) {
		r.indexOn = true
		return nil
	}

	profiles, err := r.ListActive(ctx, int(count)+1)
	if err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}

	start := time.Now()
	idx := database.NewProfileIndex()
	skipped := idx.Build(profiles)
	r.index = idx
	r.indexOn = true
	r.log.Info("profile index built",
		logging.Int("count", idx.Count()),
		logging.Int("skipped", skipped),
		logging.Duration("took", time.Since(start)))

	if indexPath != "" && idx.Count() > 0 {
		meta := database.ProfileIndexMetadata{ProfileCount: count, LastUpdated: lastUpdated, BuildTime: time.Now()}
		if err := idx.SaveWithMetadata(indexPath, meta); err != nil {
			r.log.Warn("failed to save profile index", logging.Err(err))
		}
	}
	return nil
}

// DisableIndex drops the in-memory index; FindSimilar falls back to SQL.
func (r *ProfileRepository) DisableIndex() {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	r.indexOn = false
	r.index = nil
}

// IsIndexEnabled reports whether FindSimilar is served by the in-memory index.
func (r *ProfileRepository) IsIndexEnabled() bool {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	return r.indexOn
}

// IndexCount returns the number of identities in the index.
func (r *ProfileRepository) IndexCount() int {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	if r.index == nil {
		return 0
	}
	return r.index.Count()
}

// SetIndexPath sets where RebuildIndex and SaveIndex write the index.
func (r *ProfileRepository) SetIndexPath(path string) {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	r.indexPath = path
}

// RebuildIndex rebuilds the index from the table, ignoring any saved copy.
func (r *ProfileRepository) RebuildIndex(ctx context.Context) error {
	r.indexMu.RLock()
	path := r.indexPath
	r.indexMu.RUnlock()
	return r.buildIndex(ctx, path, false)
}

// SaveIndex writes the index to the configured path. It is a no-op without a
// path or an index.
func (r *ProfileRepository) SaveIndex(ctx context.Context) error {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()

	if r.indexPath == "" || r.index == nil {
		return nil
	}

	count, lastUpdated, err := r.profileStats(ctx)
	if err != nil {
		return err
	}

	meta := database.ProfileIndexMetadata{ProfileCount: count, LastUpdated: lastUpdated, BuildTime: time.Now()}
	if err := r.index.SaveWithMetadata(r.indexPath, meta); err != nil {
		return fmt.Errorf("saving profile index: %w", err)
	}
	r.log.Info("profile index saved", logging.String("path", r.indexPath), logging.Int("count", int(count)))
	return nil
}

// indexAdd keeps an enabled index in step with a write. An embedding the
// index cannot take is left to the SQL fallback until the next rebuild.
func (r *ProfileRepository) indexAdd(identityID string, embedding []float32) {
	if len(embedding) == 0 {
		return
	}
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	if !r.indexOn || r.index == nil {
		return
	}
	if err := r.index.Add(identityID, embedding); err != nil {
		r.log.Debug("embedding not indexed", logging.String("identity_id", identityID), logging.Err(err))
	}
}

func (r *ProfileRepository) indexDelete(identityID string) {
	r.indexMu.RLock()
	defer r.indexMu.RUnlock()
	if r.index != nil {
		r.index.Delete(identityID)
	}
}
