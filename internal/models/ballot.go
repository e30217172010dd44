package models

import "fmt"

// BallotPosition is how a deputy voted in a scrutin
type BallotPosition string

const (
	PositionFor     BallotPosition = "for"
	PositionAgainst BallotPosition = "against"
	PositionAbstain BallotPosition = "abstain"
	PositionAbsent  BallotPosition = "absent"
)

// AllPositions lists positions in display order.
var AllPositions = []BallotPosition{PositionFor, PositionAgainst, PositionAbstain, PositionAbsent}

// ValidateBallotPosition checks if the position is one of the canonical values
func ValidateBallotPosition(p BallotPosition) error {
	switch p {
	case PositionFor, PositionAgainst, PositionAbstain, PositionAbsent:
		return nil
	default:
		return fmt.Errorf("invalid ballot position: %s", p)
	}
}

// DeputyVote pairs a deputy with the position they took.
type DeputyVote struct {
	DeputyID string         `json:"deputy_id"`
	Position BallotPosition `json:"position"`
}

// GroupBallotBreakdown lists deputy IDs per position for one political group
type GroupBallotBreakdown struct {
	GroupID string   `json:"group_id"`
	For     []string `json:"for"`
	Against []string `json:"against"`
	Abstain []string `json:"abstain"`
	Absent  []string `json:"absent"`
}

// Positions returns the ID list held for p.
func (g GroupBallotBreakdown) Positions(p BallotPosition) []string {
	switch p {
	case PositionFor:
		return g.For
	case PositionAgainst:
		return g.Against
	case PositionAbstain:
		return g.Abstain
	case PositionAbsent:
		return g.Absent
	}
	return nil
}

// Add appends id under p.
func (g *GroupBallotBreakdown) Add(p BallotPosition, id string) {
	switch p {
	case PositionFor:
		g.For = append(g.For, id)
	case PositionAgainst:
		g.Against = append(g.Against, id)
	case PositionAbstain:
		g.Abstain = append(g.Abstain, id)
	default:
		g.Absent = append(g.Absent, id)
	}
}

// IDs returns every deputy ID in the breakdown, positions in display order.
func (g GroupBallotBreakdown) IDs() []string {
	ids := make([]string, 0, len(g.For)+len(g.Against)+len(g.Abstain)+len(g.Absent))
	for _, p := range AllPositions {
		ids = append(ids, g.Positions(p)...)
	}
	return ids
}

// IsEmpty reports whether no deputy was extracted.
func (g GroupBallotBreakdown) IsEmpty() bool {
	return len(g.For)+len(g.Against)+len(g.Abstain)+len(g.Absent) == 0
}
