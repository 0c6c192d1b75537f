// Package validate holds the operational validators: graph health,
// data integrity, the pipeline monitor, and the pre-deployment smoke
// test. Validators report script-friendly exit codes: 0 healthy,
// 1 degraded, 2 unhealthy.
package validate

import (
	"fmt"

	"github.com/archon-intelligence/archon-ingest/pkg/graph"
)

// Validator exit codes.
const (
	ExitHealthy   = 0
	ExitDegraded  = 1
	ExitUnhealthy = 2
)

// Severity of one check result.
type Severity string

// Severities.
const (
	SeverityOK       Severity = "ok"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// GraphHealthThresholds are the pass/fail bounds for graph checks.
type GraphHealthThresholds struct {
	// MinRelationshipDensity is edges per file.
	MinRelationshipDensity float64
	// MinTreeCoverage is the fraction of files reachable from a project.
	MinTreeCoverage float64
	MaxOrphans      int
	// RequiredRelationships must each have at least one edge.
	RequiredRelationships []string
}

// DefaultGraphHealthThresholds returns the standard bounds.
func DefaultGraphHealthThresholds() GraphHealthThresholds {
	return GraphHealthThresholds{
		MinRelationshipDensity: 0.5,
		MinTreeCoverage:        0.95,
		MaxOrphans:             10,
		RequiredRelationships:  []string{graph.RelContains, graph.RelBelongsTo},
	}
}

// CheckResult is one named check outcome.
type CheckResult struct {
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
}

// GraphHealthReport aggregates all graph checks.
type GraphHealthReport struct {
	Checks      []CheckResult `json:"checks"`
	OrphanFiles []string      `json:"orphan_files,omitempty"`
}

// ExitCode maps the worst severity to a process exit code.
func (r *GraphHealthReport) ExitCode() int {
	code := ExitHealthy
	for _, c := range r.Checks {
		switch c.Severity {
		case SeverityCritical:
			return ExitUnhealthy
		case SeverityWarn:
			code = ExitDegraded
		}
	}
	return code
}

// EvaluateGraphHealth scores collected stats against thresholds. Pure;
// collection happens in graph.CollectHealthStats.
func EvaluateGraphHealth(stats *graph.HealthStats, th GraphHealthThresholds) *GraphHealthReport {
	report := &GraphHealthReport{OrphanFiles: stats.OrphanFiles}

	density := 0.0
	if stats.FileCount > 0 {
		density = float64(stats.RelationshipCount) / float64(stats.FileCount)
	}
	report.add("relationship_density", density >= th.MinRelationshipDensity, false,
		fmt.Sprintf("%.2f edges per file (minimum %.2f)", density, th.MinRelationshipDensity))

	coverage := 1.0
	if stats.FileCount > 0 {
		coverage = float64(stats.ConnectedFiles) / float64(stats.FileCount)
	}
	report.add("tree_coverage", coverage >= th.MinTreeCoverage, true,
		fmt.Sprintf("%.1f%% of files reachable from a project (minimum %.1f%%)",
			coverage*100, th.MinTreeCoverage*100))

	orphans := len(stats.OrphanFiles)
	report.add("orphan_count", orphans <= th.MaxOrphans, true,
		fmt.Sprintf("%d orphaned files (maximum %d)", orphans, th.MaxOrphans))

	for _, rel := range th.RequiredRelationships {
		report.add("relationship_"+rel, stats.RelationshipTypes[rel] > 0, false,
			fmt.Sprintf("%d %s edges", stats.RelationshipTypes[rel], rel))
	}

	return report
}

// add records a check; failed critical checks are SeverityCritical,
// failed non-critical ones SeverityWarn.
func (r *GraphHealthReport) add(name string, passed, critical bool, detail string) {
	severity := SeverityOK
	if !passed {
		severity = SeverityWarn
		if critical {
			severity = SeverityCritical
		}
	}
	r.Checks = append(r.Checks, CheckResult{Name: name, Severity: severity, Detail: detail})
}
