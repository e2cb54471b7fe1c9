package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pcpkit/shmstats"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "metrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
name: soapxml
version: 100
mode: read-write
development_mode: true
metrics:
  - type: counter
    name: requests
    pcp_cluster: 0
    pcp_item: 0
  - type: timer
    name: fetch
    pcp_cluster: 1
    pcp_item: 10
    pcp_instance: -1
`)

	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "soapxml", s.Name)
	require.Equal(t, uint32(100), s.Version)
	require.Equal(t, ModeReadWrite, s.Mode)
	require.True(t, s.DevelopmentMode)
	require.Len(t, s.Metrics, 2)

	counter := s.Metrics[0]
	require.Equal(t, shmstats.TypeCounter, counter.Type)
	require.Equal(t, "requests", counter.Name)
	require.NotNil(t, counter.Item)
	require.Equal(t, 0, *counter.Item)
	require.Nil(t, counter.Instance)

	timer := s.Metrics[1]
	require.Equal(t, shmstats.TypeTimer, timer.Type)
	require.Equal(t, 1, timer.Cluster)
	require.NotNil(t, timer.Item)
	require.Equal(t, 10, *timer.Item)
	require.NotNil(t, timer.Instance)
	require.Equal(t, -1, *timer.Instance)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "name: app\n")

	s, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint32(shmstats.DefaultVersion), s.Version)
	require.Equal(t, ModeReadWrite, s.Mode)
	require.False(t, s.DevelopmentMode)
	require.Empty(t, s.Metrics)
}

func TestLoad_Validation(t *testing.T) {
	t.Run("missing name", func(t *testing.T) {
		path := writeConfig(t, "version: 2\n")
		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("bad mode", func(t *testing.T) {
		path := writeConfig(t, "name: app\nmode: write-mostly\n")
		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})
}

func TestSettings_NewRegistry(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
name: app
version: 3
development_mode: true
key_file_path: `+dir+`
metrics:
  - type: counter
    name: hits
    pcp_cluster: 0
    pcp_item: 0
`)

	s, err := Load(path)
	require.NoError(t, err)

	r, err := s.NewRegistry()
	require.NoError(t, err)
	require.False(t, r.HasError())
	defer r.DeleteSharedMemory(true)

	require.True(t, r.Increment("hits"))
	v, ok := r.Get("hits")
	require.True(t, ok)
	require.Equal(t, uint32(1), v)
}
