package cmd

import (
	"errors"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
)

func TestSetVersionInfo(t *testing.T) {
	// Save original values
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2026-08-24",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
			assert.Contains(t, rootCmd.Version, tt.version)
		})
	}
}

func TestExitError(t *testing.T) {
	base := errors.New("disk full")
	err := exitError(foundry.ExitFileWriteError, "Archive run failed", base)

	assert.EqualError(t, err, "Archive run failed: disk full")
	assert.ErrorIs(t, err, base)
	assert.Equal(t, foundry.ExitFileWriteError, exitCodeOf(err))

	// Codes survive further wrapping.
	wrapped := errors.Join(errors.New("context"), err)
	assert.Equal(t, foundry.ExitFileWriteError, exitCodeOf(wrapped))

	assert.Zero(t, exitCodeOf(errors.New("plain")))
	assert.Zero(t, exitCodeOf(nil))
}

func TestFlagOverrides(t *testing.T) {
	restore := func() {
		rootLogLevel = ""
		rootStructured = false
		rootRoots = nil
		rootOutputDir = ""
	}
	defer restore()

	t.Run("empty flags produce no overrides", func(t *testing.T) {
		restore()
		assert.Empty(t, flagOverrides())
	})

	t.Run("set flags map onto config keys", func(t *testing.T) {
		restore()
		rootLogLevel = "debug"
		rootStructured = true
		rootRoots = []string{"/data/jobs"}
		rootOutputDir = "/archive/msa"

		got := flagOverrides()
		assert.Equal(t, map[string]any{
			"logging":    map[string]any{"level": "debug", "structured": true},
			"roots":      []string{"/data/jobs"},
			"output_dir": "/archive/msa",
		}, got)
	})
}
