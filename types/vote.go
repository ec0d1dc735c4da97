package types

import (
	"fmt"
	"strings"
)

// Direction is a vote direction from a domain specific closed set.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionHold  Direction = "hold"

	DirectionBuy       Direction = "buy"
	DirectionPass      Direction = "pass"
	DirectionFurtherDD Direction = "further_dd"
)

// IsNeutral reports whether d is a conservative (no-action) direction.
func (d Direction) IsNeutral() bool {
	return d == DirectionHold || d == DirectionFurtherDD
}

// Opposite returns the contrary trading direction; neutral and investment
// directions have no opposite.
func (d Direction) Opposite() (Direction, bool) {
	switch d {
	case DirectionLong:
		return DirectionShort, true
	case DirectionShort:
		return DirectionLong, true
	}
	return "", false
}

// DirectionSet is the closed set of directions valid for one decision domain.
type DirectionSet struct {
	Name       string
	Directions []Direction
	Neutral    Direction
}

// TradingDirections is the set used by the trading leader synthesis.
var TradingDirections = DirectionSet{
	Name:       "trading",
	Directions: []Direction{DirectionLong, DirectionShort, DirectionHold},
	Neutral:    DirectionHold,
}

// InvestmentDirections is the set used by the due-diligence roundtable.
var InvestmentDirections = DirectionSet{
	Name:       "investment",
	Directions: []Direction{DirectionBuy, DirectionPass, DirectionFurtherDD},
	Neutral:    DirectionFurtherDD,
}

// Contains reports whether d belongs to the set.
func (s DirectionSet) Contains(d Direction) bool {
	for _, x := range s.Directions {
		if x == d {
			return true
		}
	}
	return false
}

// Normalize maps free-form model output ("LONG", " Buy ", "further-dd") onto the set.
func (s DirectionSet) Normalize(raw string) (Direction, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.ReplaceAll(v, "-", "_")
	v = strings.ReplaceAll(v, " ", "_")
	d := Direction(v)
	if s.Contains(d) {
		return d, true
	}
	return "", false
}

// AgentVote is one agent's independent vote for a session round.
type AgentVote struct {
	AgentID    string    `json:"agent_id"`
	Role       AgentRole `json:"role,omitempty"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	Rationale  string    `json:"rationale"`
	KeyFactors []string  `json:"key_factors,omitempty"`
}

// Validate checks the vote against the allowed direction set and confidence range.
func (v AgentVote) Validate(set DirectionSet) error {
	if v.AgentID == "" {
		return NewError(ErrInvalidRequest, "vote without agent id")
	}
	if !set.Contains(v.Direction) {
		return NewError(ErrInvalidRequest, fmt.Sprintf("direction %q not in %s set", v.Direction, set.Name))
	}
	if v.Confidence < 0 || v.Confidence > 100 {
		return NewError(ErrInvalidRequest, fmt.Sprintf("confidence %.2f out of range [0,100]", v.Confidence))
	}
	return nil
}

// WeightedVote records the effective weight a vote carried in an aggregation.
type WeightedVote struct {
	Vote            AgentVote `json:"vote"`
	StoreWeight     float64   `json:"store_weight"`
	BaseWeight      float64   `json:"base_weight"`
	EffectiveWeight float64   `json:"effective_weight"`
}

// DissentNote describes a vote whose direction differs from the winner.
type DissentNote struct {
	AgentID   string    `json:"agent_id"`
	Direction Direction `json:"direction"`
	Rationale string    `json:"rationale"`
}

// ConsensusResult is derived from a set of votes each time a decision is needed.
type ConsensusResult struct {
	Direction           Direction             `json:"direction"`
	AggregateConfidence float64               `json:"aggregate_confidence"`
	ContributingVotes   []WeightedVote        `json:"contributing_votes"`
	DissentNotes        []DissentNote         `json:"dissent_notes"`
	Scores              map[Direction]float64 `json:"scores,omitempty"`
	TieBreak            string                `json:"tie_break,omitempty"`
}

// Supporters returns the votes that agree with the winning direction.
func (r ConsensusResult) Supporters() []WeightedVote {
	var out []WeightedVote
	for _, wv := range r.ContributingVotes {
		if wv.Vote.Direction == r.Direction {
			out = append(out, wv)
		}
	}
	return out
}

// SafetyDecision is the synchronous verdict of the safety gate. It is never stored.
type SafetyDecision struct {
	Allowed bool              `json:"allowed"`
	Check   string            `json:"check,omitempty"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Allow returns a passing decision.
func Allow() SafetyDecision { return SafetyDecision{Allowed: true} }

// Reject returns a failing decision for the given check.
func Reject(check, reason string) SafetyDecision {
	return SafetyDecision{Allowed: false, Check: check, Reason: reason}
}
