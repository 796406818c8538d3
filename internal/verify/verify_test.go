package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/aptly-dev/aptly/utils"
	"github.com/mirrorkit/aptmirror/internal/common"
	"github.com/mirrorkit/aptmirror/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeComputer struct {
	registry *common.Registry
}

func (f *fakeComputer) ComputeRegistry(_ context.Context, _ *config.Repository) (*common.Registry, error) {
	return f.registry, nil
}

func digestOf(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func TestRun_AllMatchReportsNoFailures(t *testing.T) {
	root := t.TempDir()
	storage := common.NewStorage(root, t.TempDir())

	content := []byte("package contents")
	path := filepath.Join(root, "host", "pool", "main", "f", "foo.deb")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, content, 0644))

	registry := common.NewRegistry()
	registry.Add(filepath.Join("host", "pool", "main", "f", "foo.deb"), utils.ChecksumInfo{
		Size: int64(len(content)), SHA256: digestOf(content),
	})

	report, err := Run(context.Background(), storage, &fakeComputer{registry: registry}, []*config.Repository{{}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Empty(t, report.Failures)
}

func TestRun_MissingFileReported(t *testing.T) {
	root := t.TempDir()
	storage := common.NewStorage(root, t.TempDir())

	registry := common.NewRegistry()
	registry.Add(filepath.Join("host", "pool", "main", "f", "foo.deb"), utils.ChecksumInfo{Size: 4, SHA256: "deadbeef"})

	report, err := Run(context.Background(), storage, &fakeComputer{registry: registry}, []*config.Repository{{}})
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, Missing, report.Failures[0].Kind)
}

func TestRun_DigestMismatchReported(t *testing.T) {
	root := t.TempDir()
	storage := common.NewStorage(root, t.TempDir())

	content := []byte("corrupted!")
	path := filepath.Join(root, "host", "pool", "main", "f", "foo.deb")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, content, 0644))

	registry := common.NewRegistry()
	registry.Add(filepath.Join("host", "pool", "main", "f", "foo.deb"), utils.ChecksumInfo{
		Size: int64(len(content)), SHA256: digestOf([]byte("original")),
	})

	report, err := Run(context.Background(), storage, &fakeComputer{registry: registry}, []*config.Repository{{}})
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, DigestMismatch, report.Failures[0].Kind)
}

func TestRun_SizeMismatchReported(t *testing.T) {
	root := t.TempDir()
	storage := common.NewStorage(root, t.TempDir())

	content := []byte("short")
	path := filepath.Join(root, "host", "pool", "main", "f", "foo.deb")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, content, 0644))

	registry := common.NewRegistry()
	registry.Add(filepath.Join("host", "pool", "main", "f", "foo.deb"), utils.ChecksumInfo{
		Size: 9999, SHA256: digestOf(content),
	})

	report, err := Run(context.Background(), storage, &fakeComputer{registry: registry}, []*config.Repository{{}})
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, SizeMismatch, report.Failures[0].Kind)
}

func TestRun_ExtraneousFilesNotReported(t *testing.T) {
	root := t.TempDir()
	storage := common.NewStorage(root, t.TempDir())

	strayPath := filepath.Join(root, "host", "pool", "main", "x", "xyz_1.0.deb")
	require.NoError(t, os.MkdirAll(filepath.Dir(strayPath), 0755))
	require.NoError(t, os.WriteFile(strayPath, []byte("x"), 0644))

	registry := common.NewRegistry()
	report, err := Run(context.Background(), storage, &fakeComputer{registry: registry}, []*config.Repository{{}})
	require.NoError(t, err)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 0, report.Checked)
}
