package repositories

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nethunterzist/7p-platform-sub005/internal/models"
)

func TestStateRankCaseMatchesModelRanks(t *testing.T) {
	assert.Equal(t,
		"(CASE state WHEN 'queued' THEN 1 WHEN 'sent' THEN 2 WHEN 'delivered' THEN 3 WHEN 'read' THEN 4 ELSE 0 END)",
		stateRankCase("state"))
}

func TestTransitionQueryGuardsBothSides(t *testing.T) {
	// Both the stored state and the incoming parameter rank through the same
	// table, so an unknown incoming state can never overwrite anything.
	assert.Contains(t, transitionQuery, stateRankCase("state")+" < "+stateRankCase("$1"))
	for _, state := range []string{models.StateQueued, models.StateSent, models.StateDelivered, models.StateRead} {
		assert.Contains(t, transitionQuery, "'"+state+"'")
	}
}
