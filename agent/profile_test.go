package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentcouncil/types"
)

func TestDefaultProfiles_CoverAllRoles(t *testing.T) {
	roster, err := NewRoster(DefaultProfiles()...)
	require.NoError(t, err)
	assert.ElementsMatch(t, types.AllRoles(), roster.Roles())

	for _, role := range types.AllRoles() {
		p, err := roster.Profile(role)
		require.NoError(t, err)
		assert.NotEmpty(t, p.Instruction, role)
		assert.Equal(t, !role.IsLeader(), p.Votes, role)
		if p.Votes {
			assert.Equal(t, DirectionsFor(role).Name, p.Directions.Name, role)
		}
	}

	weights := roster.BaseWeights()
	assert.Greater(t, weights[types.RoleFinancialExpert], weights[types.RoleTeamEvaluator])
}

func TestNewRoster_RejectsInvalidProfiles(t *testing.T) {
	_, err := NewRoster(
		RoleProfile{Role: types.RoleRiskManager, BaseWeight: 1},
		RoleProfile{Role: types.RoleRiskManager, BaseWeight: 1.2},
	)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	_, err = NewRoster(RoleProfile{Role: "astrologer", BaseWeight: 1})
	assert.Error(t, err)

	_, err = NewRoster(RoleProfile{Role: types.RoleLeader, BaseWeight: 0})
	assert.Error(t, err)
}

func TestRoster_ProfileReturnsCopy(t *testing.T) {
	roster, err := NewRoster(RoleProfile{Role: types.RoleTechnicalAnalyst, BaseWeight: 1, Tools: []string{"get_klines"}, Votes: true})
	require.NoError(t, err)

	p, err := roster.Profile(types.RoleTechnicalAnalyst)
	require.NoError(t, err)
	assert.Equal(t, "technical_analyst", p.Name)
	p.Tools[0] = "mutated"

	again, _ := roster.Profile(types.RoleTechnicalAnalyst)
	assert.Equal(t, []string{"get_klines"}, again.Tools)

	_, err = roster.Profile(types.RoleLegalAdvisor)
	assert.Error(t, err)
}

func TestRoleProfile_AnswerSpec(t *testing.T) {
	voter := RoleProfile{Role: types.RoleTechnicalAnalyst, Votes: true, Directions: types.TradingDirections}
	assert.Contains(t, voter.AnswerSpec(), "long|short|hold")

	leader := RoleProfile{Role: types.RoleLeader}
	assert.NotContains(t, leader.AnswerSpec(), "direction")
}
