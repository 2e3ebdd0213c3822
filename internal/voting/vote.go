package voting

import (
	"fmt"
	"sort"
	"strings"
)

// Vote is the choice a participant cast for the fate of their room.
type Vote string

const (
	// NoVote is recorded for participants that never voted.
	NoVote Vote = "novote"
	// Increase asks to merge with another room of the same level.
	Increase Vote = "increase"
	// Continue asks to keep the room at its current size.
	Continue Vote = "continue"
	// Abandon asks to terminate the room.
	Abandon Vote = "abandon"
)

// ParseVote converts a stored vote label into a Vote. Empty input yields NoVote.
func ParseVote(value string) (Vote, error) {
	switch Vote(strings.ToLower(strings.TrimSpace(value))) {
	case "", NoVote:
		return NoVote, nil
	case Increase:
		return Increase, nil
	case Continue:
		return Continue, nil
	case Abandon:
		return Abandon, nil
	}
	return NoVote, fmt.Errorf("voting: unknown vote %q", value)
}

// Abandons reports whether the vote counts towards abandoning the room.
// Not voting is treated as a vote to abandon.
func (v Vote) Abandons() bool {
	return v == Abandon || v == NoVote || v == ""
}

// Decision is the room-level result of tallying votes.
type Decision string

const (
	// DecisionAbandon terminates the room.
	DecisionAbandon Decision = "abandon"
	// DecisionContinue keeps the room at its current size.
	DecisionContinue Decision = "continue"
	// DecisionIncrease makes the room a merge candidate for this pass.
	DecisionIncrease Decision = "increase"
)

// Tally summarises the votes of a single room.
type Tally struct {
	// Abandoning lists participants that voted to abandon or did not vote, sorted.
	Abandoning []string
	Increase   int
	Continue   int
}

// Count tallies the votes keyed by participant identifier.
func Count(votes map[string]Vote) Tally {
	tally := Tally{}
	for userID, vote := range votes {
		switch {
		case vote.Abandons():
			tally.Abandoning = append(tally.Abandoning, userID)
		case vote == Increase:
			tally.Increase++
		case vote == Continue:
			tally.Continue++
		}
	}
	sort.Strings(tally.Abandoning)
	return tally
}

// Abandon returns the number of participants counted towards abandoning.
func (t Tally) Abandon() int {
	return len(t.Abandoning)
}

// Decide applies simple majority with ties resolved as
// abandon > continue > increase.
func (t Tally) Decide() Decision {
	return Decide(t.Abandon(), t.Continue, t.Increase)
}

// Decide is the decision rule over raw counts.
func Decide(numAbandon, numContinue, numIncrease int) Decision {
	if numAbandon >= numContinue && numAbandon >= numIncrease {
		return DecisionAbandon
	}
	if numContinue >= numIncrease {
		return DecisionContinue
	}
	return DecisionIncrease
}
