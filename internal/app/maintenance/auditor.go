package maintenance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kbvault/kbvault/internal/services"
	"github.com/kbvault/kbvault/internal/storage"
	"github.com/kbvault/kbvault/pkg/logger"
	"github.com/kbvault/kbvault/pkg/metrics"
)

const (
	defaultEventRetentionDays = 90
	defaultAuditSpec          = "@hourly"
	defaultCleanupSpec        = "@daily"
)

// Fault kinds reported by the consistency audit.
const (
	FaultMissingDirectory = "missing_directory"
	FaultDanglingMaterial = "dangling_material_path"
)

// Report describes the state found by one consistency audit.
type Report struct {
	CheckedAt      time.Time `json:"checked_at"`
	CheckedFolders int       `json:"checked_folders"`
	// MissingDirectories lists folder paths whose directory is absent from storage.
	MissingDirectories []string `json:"missing_directories"`
	// DanglingMaterialPaths lists material folder paths that no folder row owns.
	DanglingMaterialPaths []string `json:"dangling_material_paths"`
}

// Healthy reports whether the audit found no faults.
func (r Report) Healthy() bool {
	return len(r.MissingDirectories) == 0 && len(r.DanglingMaterialPaths) == 0
}

// Auditor periodically compares the folder index with storage and prunes old folder events. It
// reports faults but never repairs them.
type Auditor struct {
	index     *services.FolderIndex
	materials *services.MaterialLocationSync
	tree      *storage.Tree
	events    *services.FolderEventLog
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention int

	auditSchedule   string
	cleanupSchedule string

	mu   sync.Mutex
	last *Report
}

// Option customises the Auditor.
type Option func(*Auditor)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(a *Auditor) {
		if c != nil {
			a.cron = c
		}
	}
}

// WithNow overrides the clock stamped on reports.
func WithNow(now func() time.Time) Option {
	return func(a *Auditor) {
		if now != nil {
			a.now = now
		}
	}
}

// WithEventLog enables folder event retention.
func WithEventLog(events *services.FolderEventLog) Option {
	return func(a *Auditor) {
		a.events = events
	}
}

// WithEventRetentionDays adjusts how long folder events are kept.
func WithEventRetentionDays(days int) Option {
	return func(a *Auditor) {
		if days > 0 {
			a.retention = days
		}
	}
}

// WithAuditSchedule overrides the cron specification for the consistency audit.
func WithAuditSchedule(spec string) Option {
	return func(a *Auditor) {
		if spec != "" {
			a.auditSchedule = spec
		}
	}
}

// WithCleanupSchedule overrides the cron specification for event retention.
func WithCleanupSchedule(spec string) Option {
	return func(a *Auditor) {
		if spec != "" {
			a.cleanupSchedule = spec
		}
	}
}

// NewAuditor constructs an Auditor.
func NewAuditor(index *services.FolderIndex, materials *services.MaterialLocationSync, tree *storage.Tree, opts ...Option) (*Auditor, error) {
	if index == nil {
		return nil, errors.New("maintenance: folder index is required")
	}
	if materials == nil {
		return nil, errors.New("maintenance: material sync is required")
	}
	if tree == nil {
		return nil, errors.New("maintenance: storage tree is required")
	}

	auditor := &Auditor{
		index:           index,
		materials:       materials,
		tree:            tree,
		now:             time.Now,
		retention:       defaultEventRetentionDays,
		auditSchedule:   defaultAuditSpec,
		cleanupSchedule: defaultCleanupSpec,
		log:             logger.WithModule("maintenance"),
	}
	for _, opt := range opts {
		opt(auditor)
	}

	if auditor.cron == nil {
		auditor.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}
	return auditor, nil
}

// Start registers the audit and retention jobs and launches the scheduler.
func (a *Auditor) Start() error {
	if _, err := a.cron.AddFunc(a.auditSchedule, func() {
		if _, err := a.Audit(context.Background()); err != nil {
			a.log.Warn("consistency audit failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("maintenance: schedule audit: %w", err)
	}

	if a.events != nil && a.retention > 0 {
		if _, err := a.cron.AddFunc(a.cleanupSchedule, func() {
			if _, err := a.events.CleanupOlderThan(context.Background(), a.retention); err != nil {
				a.log.Warn("folder event cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule cleanup: %w", err)
		}
	}

	a.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (a *Auditor) Stop() context.Context {
	if a.cron == nil {
		return context.Background()
	}
	return a.cron.Stop()
}

// RunOnce executes the audit and event retention sequentially.
func (a *Auditor) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if _, err := a.Audit(ctx); err != nil {
		errs = multierr.Append(errs, err)
	}
	if a.events != nil && a.retention > 0 {
		if _, err := a.events.CleanupOlderThan(ctx, a.retention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Audit checks that every folder path has a directory and every material points at a folder.
// An unreachable storage root aborts the audit rather than reporting every folder as missing.
func (a *Auditor) Audit(ctx context.Context) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	report := Report{
		CheckedAt:             a.now().UTC(),
		MissingDirectories:    []string{},
		DanglingMaterialPaths: []string{},
	}

	if err := a.tree.CheckRoot(); err != nil {
		return report, fmt.Errorf("maintenance: audit: %w", err)
	}

	folders, err := a.index.ListAll(ctx)
	if err != nil {
		return report, fmt.Errorf("maintenance: audit: %w", err)
	}

	var errs error
	for _, folder := range folders {
		report.CheckedFolders++
		exists, err := a.tree.DirExists(folder.Path)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !exists {
			report.MissingDirectories = append(report.MissingDirectories, folder.Path)
		}
	}

	dangling, err := a.materials.DanglingFolderPaths(ctx)
	if err != nil {
		errs = multierr.Append(errs, err)
	} else {
		report.DanglingMaterialPaths = append(report.DanglingMaterialPaths, dangling...)
	}

	metrics.ConsistencyFaults.WithLabelValues(FaultMissingDirectory).Set(float64(len(report.MissingDirectories)))
	metrics.ConsistencyFaults.WithLabelValues(FaultDanglingMaterial).Set(float64(len(report.DanglingMaterialPaths)))

	if !report.Healthy() {
		a.log.Warn("storage consistency faults found",
			zap.Int("checked_folders", report.CheckedFolders),
			zap.Strings(FaultMissingDirectory, report.MissingDirectories),
			zap.Strings(FaultDanglingMaterial, report.DanglingMaterialPaths),
		)
	}

	a.mu.Lock()
	snapshot := report
	a.last = &snapshot
	a.mu.Unlock()

	return report, errs
}

// LastReport returns the most recent audit result, if any audit has run.
func (a *Auditor) LastReport() (Report, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.last == nil {
		return Report{}, false
	}
	return *a.last, true
}
