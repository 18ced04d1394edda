package jobs

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalStatesAreNotActive(t *testing.T) {
	for _, state := range []JobState{JobStateQueued, JobStateRunning, JobStateSucceeded, JobStateFailed} {
		j := ValidationJob{State: state}
		assert.NotEqual(t, j.IsTerminal(), slices.Contains(activeStates, state), "state %s", state)
	}
}

func TestValidationJobSchema(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, NewJobStore(db).AutoMigrate())

	m := db.Migrator()
	assert.True(t, m.HasTable("validation_jobs"))
	for _, idx := range []string{"idx_vjob_kind_state", "idx_vjob_state", "idx_vjob_crate", "idx_vjob_idemp_key"} {
		assert.True(t, m.HasIndex(&ValidationJob{}, idx), "index %s", idx)
	}
}
