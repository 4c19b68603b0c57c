package message

import (
	"fmt"
	"slices"
	"time"
)

// AuthorityTier is a coarse permission level, totally ordered by
// permissiveness: AskMeFirst < DoItAndShowMe < JustDoIt.
type AuthorityTier int

const (
	// TierAskMeFirst requires human approval before the action proceeds.
	TierAskMeFirst AuthorityTier = iota
	// TierDoItAndShowMe allows autonomous action with reporting.
	TierDoItAndShowMe
	// TierJustDoIt allows fully autonomous action.
	TierJustDoIt
)

var tierNames = map[AuthorityTier]string{
	TierAskMeFirst:    "askMeFirst",
	TierDoItAndShowMe: "doItAndShowMe",
	TierJustDoIt:      "justDoIt",
}

// String returns the camelCase wire name of the tier.
func (t AuthorityTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler for the wire format.
func (t AuthorityTier) MarshalText() ([]byte, error) {
	name, ok := tierNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown authority tier %d", int(t))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for the wire format.
func (t *AuthorityTier) UnmarshalText(data []byte) error {
	s := string(data)
	for tier, name := range tierNames {
		if name == s {
			*t = tier
			return nil
		}
	}
	return fmt.Errorf("unknown authority tier %q", s)
}

// AuthorityClaim grants an agent a tier of autonomy over a set of actions.
type AuthorityClaim struct {
	GrantedBy        string        `json:"grantedBy"`
	GrantedTo        string        `json:"grantedTo"`
	Tier             AuthorityTier `json:"tier"`
	PermittedActions []string      `json:"permittedActions"`
	GrantedAt        time.Time     `json:"grantedAt"`
	ExpiresAt        *time.Time    `json:"expiresAt,omitempty"`
}

// Expired reports whether the claim has lapsed at the given instant.
func (c AuthorityClaim) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// Permits reports whether the claim covers the named action.
func (c AuthorityClaim) Permits(action string) bool {
	return slices.Contains(c.PermittedActions, action)
}

// MaxTier returns the highest tier among valid (non-expired) claims.
// ok is false when no valid claim exists.
func MaxTier(claims []AuthorityClaim, now time.Time) (AuthorityTier, bool) {
	max := TierAskMeFirst
	found := false
	for _, c := range claims {
		if c.Expired(now) {
			continue
		}
		if !found || c.Tier > max {
			max = c.Tier
		}
		found = true
	}
	return max, found
}

// Narrow returns a copy of claims with every tier capped at ceiling.
// Synthesised outbound messages must never carry a tier higher than the
// highest valid inbound tier for the same action; Narrow is the pure
// function enforcing that invariant.
func Narrow(claims []AuthorityClaim, ceiling AuthorityTier) []AuthorityClaim {
	if len(claims) == 0 {
		return nil
	}
	out := make([]AuthorityClaim, len(claims))
	for i, c := range claims {
		if c.Tier > ceiling {
			c.Tier = ceiling
		}
		out[i] = c
	}
	return out
}
