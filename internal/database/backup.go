package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"pavilion/internal/config"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// BackupService snapshots the booking database on a schedule. VACUUM INTO
// gives a consistent copy while the engine keeps writing; the raw file copy
// is a fallback for sqlite builds without it.
type BackupService struct {
	dbPath string
	config config.BackupConfig
	logger zerolog.Logger
}

func NewBackupService(dbPath string, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	var log zerolog.Logger
	if logger != nil {
		log = logger.With().Str("component", "backup").Logger()
	}
	return &BackupService{dbPath: dbPath, config: cfg, logger: log}
}

// Start takes a snapshot immediately, then on every tick of the configured
// schedule until the context is canceled. Retention cleanup runs after each
// scheduled snapshot.
func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("backups disabled")
		return
	}

	interval := s.interval()
	s.logger.Info().Dur("interval", interval).Str("path", s.config.StoragePath).
		Msg("backup service started")

	if err := s.PerformBackup(); err != nil {
		s.logger.Error().Err(err).Msg("initial backup failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("backup service stopped")
			return
		case <-ticker.C:
			if err := s.PerformBackup(); err != nil {
				s.logger.Error().Err(err).Msg("scheduled backup failed")
			}
			s.CleanupOldBackups()
		}
	}
}

func (s *BackupService) interval() time.Duration {
	if s.config.Schedule == "" {
		return 24 * time.Hour
	}
	d, err := time.ParseDuration(s.config.Schedule)
	if err != nil {
		s.logger.Warn().Err(err).Str("schedule", s.config.Schedule).
			Msg("unparseable backup schedule, using 24h")
		return 24 * time.Hour
	}
	return d
}

// PerformBackup writes one timestamped snapshot into the storage path.
func (s *BackupService) PerformBackup() error {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	target := filepath.Join(s.config.StoragePath,
		fmt.Sprintf("backup_%s.db", time.Now().Format("20060102_150405")))

	db, err := sql.Open("sqlite3", s.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open source database: %w", err)
	}
	defer db.Close()

	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", target)); err != nil {
		s.logger.Warn().Err(err).Msg("vacuum into failed, falling back to file copy")
		if err := s.copyDatabaseFile(target); err != nil {
			return err
		}
		s.logger.Info().Str("path", target).Msg("fallback backup written")
		return nil
	}

	s.logger.Info().Str("path", target).Msg("backup written")
	return nil
}

// copyDatabaseFile is not transactionally safe: a write landing mid-copy can
// corrupt the snapshot. It only runs when VACUUM INTO is unavailable.
func (s *BackupService) copyDatabaseFile(target string) error {
	source, err := os.Open(s.dbPath)
	if err != nil {
		return err
	}
	defer source.Close()

	dest, err := os.Create(target)
	if err != nil {
		return err
	}
	defer dest.Close()

	_, err = io.Copy(dest, source)
	return err
}

// CleanupOldBackups deletes snapshots older than the retention window. A
// non-positive RetentionDays keeps everything.
func (s *BackupService) CleanupOldBackups() {
	if s.config.RetentionDays <= 0 {
		return
	}

	entries, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to read backup directory")
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			s.logger.Info().Str("file", entry.Name()).Msg("deleting expired backup")
			os.Remove(filepath.Join(s.config.StoragePath, entry.Name()))
		}
	}
}
