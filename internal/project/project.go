// Package project provides the results folder of a run and its job manifest.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"imagec/internal/processor"
	"imagec/internal/settings"
	"imagec/internal/version"

	"github.com/google/uuid"
)

// JobFileVersion is the version of the job.json layout.
const JobFileVersion = 1

// Folder name layout of a run below the results root. Colons are avoided so
// the name is valid on every file system.
const folderTimeFormat = "2006-01-02T15-04-05"

// Job is the manifest of one analysis run (job.json).
type Job struct {
	Version    int    `json:"version"`
	JobId      string `json:"jobId"`
	Name       string `json:"name"`
	AppVersion string `json:"appVersion"`
	GitCommit  string `json:"gitCommit,omitempty"`

	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`

	// Paths relative to the results folder when possible
	InputFolder  string `json:"inputFolder"`
	SettingsPath string `json:"settings"`

	Threads int                `json:"threads"`
	Summary *processor.Summary `json:"summary,omitempty"`
}

// New creates the manifest of a run starting now.
func New(name string) *Job {
	return &Job{
		Version:      JobFileVersion,
		JobId:        uuid.NewString(),
		Name:         name,
		AppVersion:   version.Version,
		GitCommit:    version.GitCommit,
		Start:        time.Now(),
		SettingsPath: "settings.json",
	}
}

// CreateResultsFolder creates root/<start time>. A counter is appended when
// the folder already exists.
func CreateResultsFolder(root string, start time.Time) (string, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", err
	}
	base := filepath.Join(root, start.Format(folderTimeFormat))
	dir := base
	for i := 2; ; i++ {
		err := os.Mkdir(dir, 0755)
		if err == nil {
			return dir, nil
		}
		if !os.IsExist(err) {
			return "", err
		}
		dir = fmt.Sprintf("%s_%d", base, i)
	}
}

// SetInputFolder stores the input folder relative to the results folder.
func (j *Job) SetInputFolder(resultsDir, input string) {
	abs, err := filepath.Abs(input)
	if err != nil {
		j.InputFolder = input
		return
	}
	absDir, err := filepath.Abs(resultsDir)
	if err != nil {
		j.InputFolder = abs
		return
	}
	rel, err := filepath.Rel(absDir, abs)
	if err != nil {
		j.InputFolder = abs
	} else {
		j.InputFolder = rel
	}
}

// GetInputFolder returns the absolute input folder.
func (j *Job) GetInputFolder(resultsDir string) string {
	if j.InputFolder == "" || filepath.IsAbs(j.InputFolder) {
		return j.InputFolder
	}
	return filepath.Join(resultsDir, j.InputFolder)
}

// GetSettingsPath returns the path of the settings copy.
func (j *Job) GetSettingsPath(resultsDir string) string {
	if filepath.IsAbs(j.SettingsPath) {
		return j.SettingsPath
	}
	return filepath.Join(resultsDir, j.SettingsPath)
}

// CopySettings writes the analysis settings the run used into the results
// folder.
func (j *Job) CopySettings(resultsDir string, s *settings.AnalyzeSettings) error {
	return s.Save(j.GetSettingsPath(resultsDir))
}

// Finish records the end time and the outcome of the run.
func (j *Job) Finish(summary processor.Summary) {
	end := time.Now()
	j.End = &end
	j.Summary = &summary
}

// Duration returns the run time, or the time since start for a running job.
func (j *Job) Duration() time.Duration {
	if j.End == nil {
		return time.Since(j.Start)
	}
	return j.End.Sub(j.Start)
}

// Load loads a manifest from a job.json file.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	if job.Version > JobFileVersion {
		return nil, fmt.Errorf("job file version %d is newer than %d", job.Version, JobFileVersion)
	}

	return &job, nil
}

// Save writes the manifest as job.json into the results folder.
func (j *Job) Save(resultsDir string) error {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(resultsDir, "job.json"), data, 0644)
}
