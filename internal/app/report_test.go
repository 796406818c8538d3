package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mirrorkit/aptmirror/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestWriteReport(t *testing.T) {
	outputDir := filepath.Join(t.TempDir(), "mirror")
	require.NoError(t, os.MkdirAll(outputDir, 0755))

	results := []*scheduler.Result{{Key: "host/debian trixie", Changed: true, FilesFetched: 3}}
	errs := map[string]error{"host/other stable": errors.New("boom")}

	require.NoError(t, WriteReport(outputDir, NewRunReport(results, errs)))

	data, err := os.ReadFile(ReportPath(outputDir))
	require.NoError(t, err)

	var report RunReport
	require.NoError(t, yaml.Unmarshal(data, &report))
	assert.Len(t, report.Repositories, 2)

	_, err = os.Stat(filepath.Join(outputDir, ".mirror.report.yaml"))
	assert.True(t, os.IsNotExist(err), "report must not be written under the mirror root")
}
