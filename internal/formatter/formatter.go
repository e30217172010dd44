package formatter

import (
	"sort"

	"hemicycle/internal/models"
	"hemicycle/internal/normalize"
)

// DeputyLookup is the consumer read side of the deputy cache.
type DeputyLookup interface {
	Get(id string) models.CacheEntry
}

// DeputyLine is one deputy as displayed in a ballot result.
type DeputyLine struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name,omitempty"`
	Profession string                 `json:"profession,omitempty"`
	State      models.ResolutionState `json:"state"`
}

type PositionResult struct {
	Position models.BallotPosition `json:"position"`
	Deputies []DeputyLine          `json:"deputies"`
}

type GroupResult struct {
	GroupID   string           `json:"group_id"`
	GroupName string           `json:"group_name"`
	Positions []PositionResult `json:"positions"`
}

// BallotResult is a scrutin with every group's voters and whatever the cache
// currently knows about each voter.
type BallotResult struct {
	ScrutinID string        `json:"scrutin_id"`
	Title     string        `json:"title,omitempty"`
	Pending   int           `json:"pending"`
	Groups    []GroupResult `json:"groups"`
}

// ResultsFormatter handles the formatting of ballot results
type ResultsFormatter struct {
	lookup DeputyLookup
}

// New creates a new ResultsFormatter
func New(lookup DeputyLookup) *ResultsFormatter {
	return &ResultsFormatter{lookup: lookup}
}

// Format builds the result view. Unresolved deputies are listed with their
// ID and state only, and counted in Pending.
func (f *ResultsFormatter) Format(scrutinID string, scrutin models.RawRecord, breakdowns map[string]models.GroupBallotBreakdown) BallotResult {
	result := BallotResult{
		ScrutinID: scrutinID,
		Title:     normalize.BallotTitle(scrutin),
		Groups:    make([]GroupResult, 0, len(breakdowns)),
	}

	groupIDs := make([]string, 0, len(breakdowns))
	for id := range breakdowns {
		groupIDs = append(groupIDs, id)
	}
	sort.Strings(groupIDs)

	for _, id := range groupIDs {
		group := f.formatGroup(breakdowns[id], &result.Pending)
		result.Groups = append(result.Groups, group)
	}
	return result
}

func (f *ResultsFormatter) formatGroup(b models.GroupBallotBreakdown, pending *int) GroupResult {
	group := GroupResult{GroupID: b.GroupID}

	for _, p := range models.AllPositions {
		ids := b.Positions(p)
		pos := PositionResult{
			Position: p,
			Deputies: make([]DeputyLine, 0, len(ids)),
		}
		for _, id := range ids {
			entry := f.lookup.Get(id)
			line := DeputyLine{ID: id, State: entry.State}
			if entry.Record.IsResolved() {
				line.Name = entry.Record.FullName()
				line.Profession = entry.Record.Profession
				if group.GroupName == "" {
					group.GroupName = entry.Record.PoliticalGroupName
				}
			} else {
				*pending++
			}
			pos.Deputies = append(pos.Deputies, line)
		}
		group.Positions = append(group.Positions, pos)
	}

	if group.GroupName == "" {
		group.GroupName = b.GroupID
	}
	return group
}
