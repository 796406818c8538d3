package app

import (
	"os"
	"path/filepath"
	"time"

	"github.com/mirrorkit/aptmirror/internal/scheduler"
	"gopkg.in/yaml.v3"
)

// RunReport is a diagnostic summary of one mirror invocation, written as a
// YAML sidecar next to the mirror root for human/CI inspection. It is
// never read back by mirror, prune, or verify — the registry recomputed
// from upstream Release files is the only source of truth those use.
type RunReport struct {
	GeneratedAt  time.Time          `yaml:"generated_at"`
	Repositories []RepositoryReport `yaml:"repositories"`
}

// RepositoryReport summarizes one repository's outcome within a run.
type RepositoryReport struct {
	Key          string `yaml:"key"`
	Changed      bool   `yaml:"changed"`
	FilesFetched int    `yaml:"files_fetched"`
	Error        string `yaml:"error,omitempty"`
}

// ReportPath returns the sidecar path WriteReport writes to for a given
// mirror root: a file beside the root, never under it, so prune's walk of
// the mirror root never sees it and never treats it as unregistered.
func ReportPath(outputDir string) string {
	clean := filepath.Clean(outputDir)
	return filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+".report.yaml")
}

// NewRunReport builds a RunReport from a run's per-repository outcomes.
func NewRunReport(results []*scheduler.Result, errs map[string]error) *RunReport {
	report := &RunReport{GeneratedAt: time.Now()}
	for _, r := range results {
		report.Repositories = append(report.Repositories, RepositoryReport{
			Key: r.Key, Changed: r.Changed, FilesFetched: r.FilesFetched,
		})
	}
	for key, err := range errs {
		report.Repositories = append(report.Repositories, RepositoryReport{Key: key, Error: err.Error()})
	}
	return report
}

// WriteReport marshals report to YAML and writes it to ReportPath(outputDir).
func WriteReport(outputDir string, report *RunReport) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return err
	}
	return os.WriteFile(ReportPath(outputDir), data, 0644)
}
