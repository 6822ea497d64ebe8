package sql

import (
	"context"

	"github.com/nexuscluster/nexus/apperr"
)

// ListBlacklist returns the blacklisted GPU indices for node.
func (s *Store) ListBlacklist(ctx context.Context, node string) ([]int, error) {
	var models []blacklistModel
	err := s.idb.NewSelect().Model(&models).Where("node = ?", node).Scan(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Store, "failed to list blacklisted gpus", err)
	}
	idxs := make([]int, len(models))
	for i, m := range models {
		idxs[i] = m.GPUIdx
	}
	return idxs, nil
}

// AddBlacklist adds gpuIdx to node's blacklist, reporting whether the
// row did not already exist (for idempotency reporting, per spec
// §4.A).
func (s *Store) AddBlacklist(ctx context.Context, node string, gpuIdx int) (bool, error) {
	count, err := s.idb.NewSelect().
		Model((*blacklistModel)(nil)).
		Where("node = ?", node).
		Where("gpu_idx = ?", gpuIdx).
		Count(ctx)
	if err != nil {
		return false, apperr.Wrap(apperr.Store, "failed to check blacklist", err)
	}
	if count > 0 {
		return false, nil
	}
	_, err = s.idb.NewInsert().
		Model(&blacklistModel{Node: node, GPUIdx: gpuIdx}).
		Exec(ctx)
	if err != nil {
		return false, apperr.Wrap(apperr.Store, "failed to blacklist gpu", err)
	}
	return true, nil
}

// RemoveBlacklist removes gpuIdx from node's blacklist, reporting
// whether a row was actually deleted.
func (s *Store) RemoveBlacklist(ctx context.Context, node string, gpuIdx int) (bool, error) {
	res, err := s.idb.NewDelete().
		Model((*blacklistModel)(nil)).
		Where("node = ?", node).
		Where("gpu_idx = ?", gpuIdx).
		Exec(ctx)
	if err != nil {
		return false, apperr.Wrap(apperr.Store, "failed to remove gpu from blacklist", err)
	}
	return isAffected(res), nil
}
