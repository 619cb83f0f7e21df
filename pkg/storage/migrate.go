package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// VolumeWriter is the write side of a migration target
type VolumeWriter interface {
	CreateVolume(ctx context.Context, volume *types.ServiceVolume) error
}

// MigrationResult counts the records a migration touched
type MigrationResult struct {
	Found    int
	Copied   int
	Existing int
}

// MigrateVolumes copies every volume record of src into dst. Records whose
// ID already exists in dst are left untouched. With dryRun nothing is written.
func MigrateVolumes(ctx context.Context, src Store, dst VolumeWriter, dryRun bool) (MigrationResult, error) {
	logger := log.WithComponent("migrate")

	var result MigrationResult
	volumes, err := src.ListVolumes(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list source volumes: %w", err)
	}
	result.Found = len(volumes)

	if dryRun {
		logger.Info().Int("volumes", result.Found).Msg("Dry run, no records written")
		return result, nil
	}

	for _, v := range volumes {
		err := dst.CreateVolume(ctx, v)
		switch {
		case errors.Is(err, ErrVolumeExists):
			logger.Warn().Str("volume_id", v.ID).Msg("Volume already in target, skipping")
			result.Existing++
		case err != nil:
			return result, fmt.Errorf("failed to copy volume %s: %w", v.ID, err)
		default:
			result.Copied++
		}
	}

	logger.Info().
		Int("copied", result.Copied).
		Int("existing", result.Existing).
		Msg("Volume migration complete")
	return result, nil
}

// Backup writes a consistent copy of the database to path
func (s *BoltStore) Backup(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("backup %s already exists", path)
	}
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(path, 0600)
	})
}
