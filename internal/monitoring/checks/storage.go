package checks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kbvault/kbvault/internal/app/maintenance"
	"github.com/kbvault/kbvault/internal/monitoring"
	"github.com/kbvault/kbvault/internal/storage"
)

const defaultAuditMaxAge = 6 * time.Hour

// StorageRoot reports whether the storage root directory is reachable. A network drive that
// went away shows up here.
func StorageRoot(tree *storage.Tree) monitoring.Check {
	return monitoring.NewCheck("storage", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if tree == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "storage not configured"}
		}
		return monitoring.ResultFromError("storage", tree.CheckRoot(), time.Since(start))
	})
}

// AuditSource exposes the latest consistency audit.
type AuditSource interface {
	LastReport() (maintenance.Report, bool)
}

// Consistency turns the latest audit into a probe. Faults or an audit older than maxAge fail the
// probe; register it as advisory so they only degrade health.
func Consistency(source AuditSource, maxAge time.Duration, now func() time.Time) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultAuditMaxAge
	}
	if now == nil {
		now = time.Now
	}

	return monitoring.NewCheck("consistency", func(context.Context) monitoring.ProbeResult {
		if source == nil {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "audit disabled"}
		}

		report, ok := source.LastReport()
		if !ok {
			return monitoring.ProbeResult{Status: monitoring.StatusUp, Details: "pending first audit"}
		}

		var problems []string
		if n := len(report.MissingDirectories); n > 0 {
			problems = append(problems, fmt.Sprintf("%d missing directories", n))
		}
		if n := len(report.DanglingMaterialPaths); n > 0 {
			problems = append(problems, fmt.Sprintf("%d dangling material paths", n))
		}
		if age := now().Sub(report.CheckedAt); age > maxAge {
			problems = append(problems, "stale audit from "+report.CheckedAt.UTC().Format(time.RFC3339))
		}

		if len(problems) == 0 {
			return monitoring.ProbeResult{Status: monitoring.StatusUp}
		}
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: strings.Join(problems, "; ")}
	})
}
