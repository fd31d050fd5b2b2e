package main

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmascraper/pkg/progress"
)

func TestCommandLineFlagsOnlyChanged(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().AddFlagSet(rootCmd.PersistentFlags())
	require.NoError(t, cmd.Flags().Parse([]string{"--timeout", "30s", "--partitions", "01,13", "--headless=false"}))

	flags := commandLineFlags(cmd)
	assert.Equal(t, 30*time.Second, flags["timeout"])
	assert.Equal(t, []string{"01", "13"}, flags["partitions"])
	assert.Equal(t, false, flags["headless"])
	assert.NotContains(t, flags, "max-retries")
	assert.NotContains(t, flags, "output-dir")
}

func TestResetTargets(t *testing.T) {
	doc := progress.Document{
		"01": {ID: "01", Status: progress.StatusFailed},
		"02": {ID: "02", Status: progress.StatusCompleted},
		"03": {ID: "03", Status: progress.StatusFailed},
	}

	t.Cleanup(func() { resetFailed, resetAll = false, false })

	resetFailed, resetAll = true, false
	assert.Equal(t, []string{"01", "03", "02"}, resetTargets(doc, []string{"02", "01"}))

	resetFailed, resetAll = false, true
	assert.Equal(t, []string{"01", "02", "03"}, resetTargets(doc, nil))

	resetFailed, resetAll = false, false
	assert.Equal(t, []string{"02"}, resetTargets(doc, []string{"02"}))
}
