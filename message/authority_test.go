package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaxTierSkipsExpiredClaims(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	claims := []AuthorityClaim{
		{GrantedTo: "cos", Tier: TierJustDoIt, ExpiresAt: &past},
		{GrantedTo: "cos", Tier: TierDoItAndShowMe, ExpiresAt: &future},
		{GrantedTo: "cos", Tier: TierAskMeFirst},
	}

	tier, ok := MaxTier(claims, now)
	require.True(t, ok)
	assert.Equal(t, TierDoItAndShowMe, tier)

	_, ok = MaxTier(nil, now)
	assert.False(t, ok)

	_, ok = MaxTier([]AuthorityClaim{{Tier: TierJustDoIt, ExpiresAt: &past}}, now)
	assert.False(t, ok, "all-expired claims yield no tier")
}

func TestNarrowCapsEveryTier(t *testing.T) {
	claims := []AuthorityClaim{
		{GrantedTo: "a", Tier: TierJustDoIt, PermittedActions: []string{"x"}},
		{GrantedTo: "a", Tier: TierAskMeFirst, PermittedActions: []string{"y"}},
	}

	narrowed := Narrow(claims, TierDoItAndShowMe)
	require.Len(t, narrowed, 2)
	assert.Equal(t, TierDoItAndShowMe, narrowed[0].Tier)
	assert.Equal(t, TierAskMeFirst, narrowed[1].Tier, "tiers below the ceiling are untouched")

	// Narrow never raises the maximum: for all outputs, max <= ceiling.
	max, ok := MaxTier(narrowed, time.Now())
	require.True(t, ok)
	assert.LessOrEqual(t, max, TierDoItAndShowMe)

	// Input is not mutated.
	assert.Equal(t, TierJustDoIt, claims[0].Tier)

	assert.Nil(t, Narrow(nil, TierJustDoIt))
}

func TestClaimPermitsAndExpiry(t *testing.T) {
	now := time.Now().UTC()
	exp := now.Add(time.Minute)
	claim := AuthorityClaim{
		GrantedTo:        "translator",
		Tier:             TierJustDoIt,
		PermittedActions: []string{"translation"},
		ExpiresAt:        &exp,
	}

	assert.True(t, claim.Permits("translation"))
	assert.False(t, claim.Permits("research"))
	assert.False(t, claim.Expired(now))
	assert.True(t, claim.Expired(exp))
	assert.True(t, claim.Expired(exp.Add(time.Second)))

	open := AuthorityClaim{Tier: TierAskMeFirst}
	assert.False(t, open.Expired(now.Add(1000*time.Hour)), "claims without expiry never lapse")
}

func TestTierOrdering(t *testing.T) {
	assert.Less(t, TierAskMeFirst, TierDoItAndShowMe)
	assert.Less(t, TierDoItAndShowMe, TierJustDoIt)
}
