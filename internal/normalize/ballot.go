package normalize

import (
	"fmt"
	"sort"
	"strings"

	"hemicycle/internal/models"
)

// positionField maps a position-keyed upstream field to its canonical position.
type positionField struct {
	key      string
	position models.BallotPosition
}

var positionFields = []positionField{
	{"pours", models.PositionFor},
	{"pour", models.PositionFor},
	{"contres", models.PositionAgainst},
	{"contre", models.PositionAgainst},
	{"abstentions", models.PositionAbstain},
	{"abstention", models.PositionAbstain},
	{"nonVotants", models.PositionAbsent},
	{"nonVotant", models.PositionAbsent},
	{"nonVotantsVolontaires", models.PositionAbsent},
	{"for", models.PositionFor},
	{"against", models.PositionAgainst},
	{"abstain", models.PositionAbstain},
	{"absent", models.PositionAbsent},
}

var positionLabels = map[string]models.BallotPosition{
	"pour":                  models.PositionFor,
	"pours":                 models.PositionFor,
	"for":                   models.PositionFor,
	"contre":                models.PositionAgainst,
	"contres":               models.PositionAgainst,
	"against":               models.PositionAgainst,
	"abstention":            models.PositionAbstain,
	"abstentions":           models.PositionAbstain,
	"abstain":               models.PositionAbstain,
	"nonvotant":             models.PositionAbsent,
	"nonvotants":            models.PositionAbsent,
	"nonvotantsvolontaires": models.PositionAbsent,
	"absent":                models.PositionAbsent,
	"absents":               models.PositionAbsent,
}

var labelCleaner = strings.NewReplacer("-", "", " ", "", "_", "")

// ParsePosition maps an upstream label to a position. Unknown labels are absent.
func ParsePosition(label string) models.BallotPosition {
	key := strings.ToLower(labelCleaner.Replace(strings.TrimSpace(label)))
	if p, ok := positionLabels[key]; ok {
		return p
	}
	return models.PositionAbsent
}

var voterIDAliases = []string{"acteurRef", "uid", "id", "deputeId", "depute_id"}

var tallyWrapperPaths = []string{"decompteNominatif", "vote.decompteNominatif", "decompte"}

// breakdownShape pairs a detector with the extraction of the object holding
// the position-keyed fields.
type breakdownShape struct {
	name    string
	matches func(map[string]any) bool
	extract func(map[string]any) map[string]any
}

// breakdownShapes are tried in order for every group. Endpoints mix wrappings
// within a single response, so detection is never hoisted to the response level.
var breakdownShapes = []breakdownShape{
	{name: "tally", matches: isTallyWrapped, extract: tallyWrapper},
	{name: "flat", matches: isFlatCounts, extract: func(g map[string]any) map[string]any { return g }},
}

func tallyWrapper(group map[string]any) map[string]any {
	for _, path := range tallyWrapperPaths {
		if m, ok := asMap(lookup(group, path)); ok {
			return m
		}
	}
	return nil
}

func isTallyWrapped(group map[string]any) bool {
	return tallyWrapper(group) != nil
}

func isFlatCounts(group map[string]any) bool {
	for _, f := range positionFields {
		if _, ok := group[f.key]; ok {
			return true
		}
	}
	return false
}

// voters flattens a position value into voter items. The value may be null, a
// single voter, a list, or a {"votant": ...} wrapper around either.
func voters(v any) []any {
	var out []any
	for _, item := range asList(v) {
		if m, ok := item.(map[string]any); ok {
			if inner, ok := m["votant"]; ok {
				out = append(out, voters(inner)...)
				continue
			}
			if inner, ok := m["votants"]; ok {
				out = append(out, voters(inner)...)
				continue
			}
		}
		if list, ok := item.([]any); ok {
			out = append(out, voters(list)...)
			continue
		}
		out = append(out, item)
	}
	return out
}

// voterID reads the deputy ID of a voter item. Bare numbers are vote counts,
// not deputies, and are skipped.
func voterID(item any) string {
	switch t := item.(type) {
	case string:
		return CanonicalID(t)
	case map[string]any:
		return firstID(t, voterIDAliases...)
	}
	return ""
}

// Breakdown extracts per-position deputy IDs for one group. groupID falls back
// to the group's own organeRef when empty.
func Breakdown(groupID string, raw any) models.GroupBallotBreakdown {
	out := models.GroupBallotBreakdown{GroupID: groupID}
	group, ok := raw.(map[string]any)
	if !ok {
		return out
	}
	if out.GroupID == "" {
		out.GroupID = firstString(group, "organeRef", "groupId", "groupe_id", "uid")
	}

	for _, shape := range breakdownShapes {
		if !shape.matches(group) {
			continue
		}
		collect(shape.extract(group), &out)
		return out
	}
	return out
}

func collect(fields map[string]any, out *models.GroupBallotBreakdown) {
	seen := make(map[string]struct{})
	for _, f := range positionFields {
		for _, item := range voters(fields[f.key]) {
			id := voterID(item)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out.Add(f.position, id)
		}
	}
}

// Breakdowns normalizes every group of a group-ID keyed mapping.
func Breakdowns(groups map[string]any) map[string]models.GroupBallotBreakdown {
	out := make(map[string]models.GroupBallotBreakdown, len(groups))
	for id, raw := range groups {
		out[id] = Breakdown(id, raw)
	}
	return out
}

// DeputyIDs returns the sorted set of deputy IDs referenced by any position of
// any group.
func DeputyIDs(groups map[string]any) []string {
	set := make(map[string]struct{})
	for _, b := range Breakdowns(groups) {
		for _, id := range b.IDs() {
			set[id] = struct{}{}
		}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var groupListPaths = []string{
	"scrutin.ventilationVotes.organe.groupes.groupe",
	"ventilationVotes.organe.groupes.groupe",
	"scrutin.groupes",
	"groupes.groupe",
	"groupes",
}

// BallotGroups pulls the per-group objects out of a raw scrutin and keys them
// by group ID.
func BallotGroups(scrutin models.RawRecord) map[string]any {
	for _, path := range groupListPaths {
		v := lookup(scrutin, path)
		if v == nil {
			continue
		}
		if groups := groupsFrom(v); len(groups) > 0 {
			return groups
		}
	}
	return map[string]any{}
}

func looksLikeGroup(m map[string]any) bool {
	if isTallyWrapped(m) || isFlatCounts(m) {
		return true
	}
	_, hasRef := m["organeRef"]
	_, hasVote := m["vote"]
	return hasRef || hasVote
}

func groupsFrom(v any) map[string]any {
	out := make(map[string]any)
	if m, ok := v.(map[string]any); ok && !looksLikeGroup(m) {
		// already keyed by group ID
		for id, g := range m {
			if _, ok := g.(map[string]any); ok {
				out[id] = g
			}
		}
		return out
	}
	for i, item := range asList(v) {
		g, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := firstString(g, "organeRef", "groupId", "groupe_id", "uid", "id")
		if id == "" {
			id = fmt.Sprintf("group-%d", i)
		}
		out[id] = g
	}
	return out
}

var voteLabelAliases = []string{"position", "vote", "positionVote", "choix"}

// Votes returns (deputy, position) pairs from either a group breakdown or a
// list of individual vote objects.
func Votes(raw any) []models.DeputyVote {
	if m, ok := raw.(map[string]any); ok && (isTallyWrapped(m) || isFlatCounts(m)) {
		b := Breakdown("", m)
		var out []models.DeputyVote
		for _, p := range models.AllPositions {
			for _, id := range b.Positions(p) {
				out = append(out, models.DeputyVote{DeputyID: id, Position: p})
			}
		}
		return out
	}

	var out []models.DeputyVote
	for _, item := range asList(raw) {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := firstID(m, voterIDAliases...)
		if id == "" {
			continue
		}
		out = append(out, models.DeputyVote{
			DeputyID: id,
			Position: ParsePosition(firstString(m, voteLabelAliases...)),
		})
	}
	return out
}

var ballotTitleAliases = []string{
	"scrutin.titre", "titre", "scrutin.objet.libelle", "objet.libelle", "title", "libelle",
}

// BallotTitle returns the human-readable title of a raw scrutin, or "".
func BallotTitle(scrutin models.RawRecord) string {
	return firstString(scrutin, ballotTitleAliases...)
}
