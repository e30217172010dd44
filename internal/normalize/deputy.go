package normalize

import (
	"regexp"
	"strings"

	"hemicycle/internal/models"
)

// DeputyPrefix marks canonical deputy IDs.
const DeputyPrefix = "PA"

var digitsOnly = regexp.MustCompile(`^[0-9]+$`)

// CanonicalID returns the PA-prefixed form of a deputy ID, or "" when raw is
// not a deputy ID. JSON numbers are accepted.
func CanonicalID(raw any) string {
	s := scalarString(raw)
	if len(s) >= len(DeputyPrefix) && strings.EqualFold(s[:len(DeputyPrefix)], DeputyPrefix) {
		s = s[len(DeputyPrefix):]
	}
	if !digitsOnly.MatchString(s) {
		return ""
	}
	return DeputyPrefix + s
}

// CanonicalIDs canonicalizes and deduplicates ids, dropping invalid ones.
// Order is preserved.
func CanonicalIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, raw := range ids {
		id := CanonicalID(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// firstID returns the first alias value that is a valid deputy ID.
func firstID(raw map[string]any, aliases ...string) string {
	for _, alias := range aliases {
		if id := CanonicalID(lookup(raw, alias)); id != "" {
			return id
		}
	}
	return ""
}

// Alias lists are tried in order; the first non-empty value wins.
var (
	envelopeKeys = []string{"acteur", "depute", "deputy", "data"}

	idAliases = []string{
		"uid", "id", "acteurRef", "deputeId", "depute_id", "identifiant",
	}
	givenNameAliases = []string{
		"prenom", "firstName", "first_name", "given_name",
		"etatCivil.ident.prenom", "identity.prenom", "identite.prenom", "ident.prenom", "identity.firstName",
	}
	familyNameAliases = []string{
		"nom", "lastName", "last_name", "family_name", "nom_de_famille",
		"etatCivil.ident.nom", "identity.nom", "identite.nom", "ident.nom", "identity.lastName",
	}
	professionAliases = []string{
		"profession.libelleCourant", "profession", "etatCivil.profession.libelleCourant",
		"identity.profession", "metier",
	}
	groupNameAliases = []string{
		"groupe_politique", "groupePolitique", "groupeNom", "groupe_nom", "political_group_name",
		"groupe.libelle", "groupe", "groupe.nom", "organe.libelle",
	}
	groupIDAliases = []string{
		"groupe_id", "groupeId", "groupeRef", "political_group_id",
		"organeRef", "groupe.uid", "groupe.id", "organe.uid",
	}
)

// unwrap strips the envelope some endpoints put around the deputy object.
func unwrap(raw map[string]any) (map[string]any, bool) {
	for _, key := range envelopeKeys {
		if inner, ok := asMap(raw[key]); ok {
			return inner, true
		}
	}
	return raw, false
}

// Deputy normalizes a remote detail response or a persistent-store row.
// Unusable input yields a placeholder record with an empty ID.
func Deputy(raw models.RawRecord) models.DeputyRecord {
	if raw == nil {
		return models.Placeholder("")
	}
	src, wrapped := unwrap(raw)

	record := models.DeputyRecord{
		ID:                 firstID(src, idAliases...),
		GivenName:          firstString(src, givenNameAliases...),
		FamilyName:         firstString(src, familyNameAliases...),
		Profession:         firstString(src, professionAliases...),
		PoliticalGroupName: firstString(src, groupNameAliases...),
		PoliticalGroupID:   firstString(src, groupIDAliases...),
	}
	if record.ID == "" && wrapped {
		record.ID = firstID(raw, idAliases...)
	}
	if record.Profession == "" {
		record.Profession = models.ProfessionNotProvided
	}
	return record
}
