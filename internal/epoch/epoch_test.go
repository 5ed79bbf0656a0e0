package epoch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceBlockedByPinnedParticipant(t *testing.T) {
	m := NewManager(Config{})
	p := m.RegisterThread()
	p.Enter()

	assert.False(t, m.Advance(), "advance must stall while a participant is pinned at the current epoch")
	p.Exit()
	assert.True(t, m.Advance())
}

func TestDeferFreeWaitsForGracePeriod(t *testing.T) {
	m := NewManager(Config{})
	freed := false

	startEpoch := m.Epoch()
	m.DeferFree(startEpoch, func() { freed = true })

	require.True(t, m.Advance())
	assert.False(t, freed, "must not free before two epoch transitions have elapsed")

	require.True(t, m.Advance())
	assert.True(t, freed, "must free once the epoch has advanced twice past the unlink epoch")
}

func TestPinnedReaderBlocksReclamationOfOlderEpoch(t *testing.T) {
	m := NewManager(Config{})
	reader := m.RegisterThread()
	reader.Enter() // pins at epoch 1

	unlinkEpoch := m.Epoch()
	freed := false
	m.DeferFree(unlinkEpoch, func() { freed = true })

	// The reader never releases, so no advance should ever succeed.
	assert.False(t, m.Advance())
	assert.False(t, freed)

	reader.Exit()
	require.True(t, m.Advance())
	require.True(t, m.Advance())
	assert.True(t, freed)
}

func TestStatsTrackReclamation(t *testing.T) {
	m := NewManager(Config{})
	m.DeferFree(m.Epoch(), func() {})
	require.True(t, m.Advance())
	require.True(t, m.Advance())

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.VersionsReclaimed)
	assert.Equal(t, uint64(2), stats.CyclesRun)
}

func TestShutdownDrainsDeferredFrees(t *testing.T) {
	m := NewManager(Config{})
	freed := false
	m.DeferFree(m.Epoch(), func() { freed = true })
	m.Shutdown()
	assert.True(t, freed)
}
