package project

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"imagec/internal/processor"
	"imagec/internal/settings"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateResultsFolder(t *testing.T) {
	root := filepath.Join(t.TempDir(), "results")
	start := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

	first, err := CreateResultsFolder(root, start)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "2024-03-05T14-07-09"), first)
	assert.DirExists(t, first)

	second, err := CreateResultsFolder(root, start)
	require.NoError(t, err)
	assert.Equal(t, first+"_2", second, "an existing folder is never reused")
}

func TestJobRoundTrip(t *testing.T) {
	dir := t.TempDir()
	job := New("plate 1")
	_, err := uuid.Parse(job.JobId)
	require.NoError(t, err)

	job.SetInputFolder(dir, filepath.Join(dir, "..", "images"))
	assert.Equal(t, filepath.Join("..", "images"), job.InputFolder)
	assert.Equal(t, filepath.Clean(filepath.Join(dir, "..", "images")), job.GetInputFolder(dir))

	job.Threads = 4
	job.Finish(processor.Summary{NImages: 3, NImagesProcessed: 2, NImagesFailed: 1})
	require.NoError(t, job.Save(dir))

	loaded, err := Load(filepath.Join(dir, "job.json"))
	require.NoError(t, err)
	assert.Equal(t, job.JobId, loaded.JobId)
	assert.Equal(t, "plate 1", loaded.Name)
	assert.Equal(t, 4, loaded.Threads)
	require.NotNil(t, loaded.End)
	require.NotNil(t, loaded.Summary)
	assert.Equal(t, 1, loaded.Summary.NImagesFailed)
	assert.False(t, loaded.End.Before(loaded.Start))
}

func TestLoadRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 99}`), 0644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestCopySettings(t *testing.T) {
	dir := t.TempDir()
	s := &settings.AnalyzeSettings{
		Classes: []settings.Class{{ClassId: 1, Name: "nuclei"}},
		Options: settings.Options{PixelInMicrometer: 0.5},
	}
	job := New("copy")
	require.NoError(t, job.CopySettings(dir, s))

	data, err := os.ReadFile(filepath.Join(dir, "settings.json"))
	require.NoError(t, err)
	parsed, err := settings.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 0.5, parsed.Options.PixelInMicrometer)
	assert.Equal(t, "nuclei", parsed.ClassName(1))
}
