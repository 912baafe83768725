// Package quarantine moves files that failed validation into a tenant's
// REWORK tree together with an error report.
package quarantine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/artpar/layerpack/internal/core/domain"
	"github.com/artpar/layerpack/internal/core/manifest"
	"github.com/artpar/layerpack/internal/shell/storage"
)

// Outcome reports what happened to one quarantined file.
type Outcome struct {
	MovedToRework bool
	Err           error
}

// Manager writes quarantined files and their reports.
type Manager struct {
	backend storage.Backend
	logger  *slog.Logger
	now     func() time.Time
}

// Config configures a Manager.
type Config struct {
	Logger *slog.Logger
	Now    func() time.Time
}

// NewManager creates a quarantine manager.
func NewManager(backend storage.Backend, cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		backend: backend,
		logger:  logger.With("component", "quarantine"),
		now:     now,
	}
}

// ReportPath returns the location of the error report for a quarantined file.
func ReportPath(reworkRoot, relativePath string) string {
	return domain.JoinPath(reworkRoot, relativePath+domain.ErrorReportSuffix)
}

// Quarantine copies the file at sourceLocation unmodified to
// reworkRoot/relativePath and writes the sibling error report.
//
// Failures are logged and reported through Outcome; they never abort the
// caller's merge.
func (m *Manager) Quarantine(ctx context.Context, relativePath, sourceLocation, reworkRoot, reason string) Outcome {
	log := m.logger.With("file", relativePath, "reason", reason)

	content, err := m.backend.Read(ctx, sourceLocation)
	if err != nil {
		log.Error("quarantine read failed", "source", sourceLocation, "error", err)
		return Outcome{Err: fmt.Errorf("read %s: %w", sourceLocation, err)}
	}
	return m.QuarantineContent(ctx, relativePath, sourceLocation, content, reworkRoot, reason)
}

// QuarantineContent is Quarantine for content the caller already read.
func (m *Manager) QuarantineContent(ctx context.Context, relativePath, sourceLocation string, content []byte, reworkRoot, reason string) Outcome {
	log := m.logger.With("file", relativePath, "reason", reason)

	target := domain.JoinPath(reworkRoot, relativePath)
	if err := m.backend.Write(ctx, target, content); err != nil {
		log.Error("quarantine copy failed", "target", target, "error", err)
		return Outcome{Err: fmt.Errorf("copy to %s: %w", target, err)}
	}

	report, err := manifest.MarshalErrorReport(domain.ErrorReport{
		FileName:     relativePath,
		OriginalPath: sourceLocation,
		Reason:       reason,
		Timestamp:    m.now(),
	})
	if err == nil {
		err = m.backend.Write(ctx, ReportPath(reworkRoot, relativePath), report)
	}
	if err != nil {
		// The copy landed; only the report is missing.
		log.Error("quarantine report failed", "error", err)
		return Outcome{MovedToRework: true, Err: fmt.Errorf("write report: %w", err)}
	}

	log.Warn("file quarantined", "target", target)
	return Outcome{MovedToRework: true}
}

// List returns the files waiting in reworkRoot, read from their error
// reports and sorted by file name. A missing REWORK tree yields none.
func (m *Manager) List(ctx context.Context, reworkRoot string) ([]domain.ReworkFile, error) {
	idx, err := storage.Index(ctx, m.backend, reworkRoot)
	if err != nil {
		return nil, err
	}

	files := []domain.ReworkFile{}
	for rel, loc := range idx {
		if !strings.HasSuffix(rel, domain.ErrorReportSuffix) {
			continue
		}
		data, err := m.backend.Read(ctx, loc)
		if err != nil {
			return nil, err
		}
		report, err := manifest.ParseErrorReport(data)
		if err != nil {
			m.logger.Warn("skipping unreadable error report", "report", loc, "error", err)
			continue
		}
		name := report.FileName
		if name == "" {
			name = strings.TrimSuffix(rel, domain.ErrorReportSuffix)
		}
		files = append(files, domain.ReworkFile{
			FileName:  name,
			Reason:    report.Reason,
			Timestamp: report.Timestamp,
		})
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].FileName < files[j].FileName
	})
	return files, nil
}

// Clear drops the REWORK entry of a file that validated on a later pass.
// cleared is false when the file had no entry.
func (m *Manager) Clear(ctx context.Context, reworkRoot, relativePath string) (cleared bool, err error) {
	err = m.Resolve(ctx, reworkRoot, relativePath)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.logger.Info("rework entry cleared", "file", relativePath, "rework", reworkRoot)
	return true, nil
}

// Resolve removes a quarantined file and its report, typically after the
// tenant fixed the CUSTOM copy.
func (m *Manager) Resolve(ctx context.Context, reworkRoot, relativePath string) error {
	rel := domain.CleanPath(relativePath)
	if rel == "" {
		return fmt.Errorf("%w: empty rework path", storage.ErrInvalidPath)
	}
	if _, err := m.backend.Stat(ctx, ReportPath(reworkRoot, rel)); err != nil {
		return err
	}
	if err := m.backend.Delete(ctx, domain.JoinPath(reworkRoot, rel)); err != nil {
		return err
	}
	return m.backend.Delete(ctx, ReportPath(reworkRoot, rel))
}
