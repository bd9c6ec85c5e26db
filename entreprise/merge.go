package entreprise

import (
	"sort"
	"strings"
)

// mergeOrder fixes source precedence for deterministic merging. Local comes
// first: its fields win on SIREN conflicts because user-curated records are
// the freshest.
var mergeOrder = []Source{SourceLocal, SourceInsee, SourceBodacc, SourceInpi, SourceGouv}

// Merge concatenates per-source results, drops records without a valid
// 9-digit SIREN, deduplicates by SIREN with local fields taking precedence,
// and ranks against the query. Pure function: same inputs, same output.
func Merge(bySource map[Source][]Company, query string) []Company {
	merged := make([]Company, 0)
	index := make(map[string]int)

	for _, source := range mergeOrder {
		for _, company := range bySource[source] {
			company.Siren = NormalizeSiren(company.Siren)
			if company.Siren == "" {
				continue
			}

			if company.Source == "" {
				company.Source = source
			}

			at, seen := index[company.Siren]
			if !seen {
				company.Sources = []Source{source}
				index[company.Siren] = len(merged)
				merged = append(merged, company)

				continue
			}

			kept := &merged[at]
			kept.Sources = appendSource(kept.Sources, source)

			// Earlier sources in mergeOrder already won the field
			// conflict; later duplicates only fill gaps.
			fillMissing(kept, &company)
		}
	}

	queryNorm := strings.ToLower(NormalizeCompanyName(query))
	for i := range merged {
		merged[i].Score = nameScore(merged[i].Name, queryNorm)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]

		aLocal := a.Source == SourceLocal
		bLocal := b.Source == SourceLocal
		if aLocal != bLocal {
			return aLocal
		}

		if a.Score != b.Score {
			return a.Score > b.Score
		}

		return a.Siren < b.Siren
	})

	return merged
}

func appendSource(sources []Source, source Source) []Source {
	for _, s := range sources {
		if s == source {
			return sources
		}
	}

	return append(sources, source)
}

// fillMissing copies fields the kept record lacks from a later duplicate.
// The announcement is the one field a later source may override, since only
// BODACC carries it.
func fillMissing(kept, dup *Company) {
	if kept.Siret == "" {
		kept.Siret = dup.Siret
	}

	if kept.Name == "" {
		kept.Name = dup.Name
	}

	if kept.LegalForm == "" {
		kept.LegalForm = dup.LegalForm
	}

	if kept.Created == "" {
		kept.Created = dup.Created
	}

	if kept.Closed == "" {
		kept.Closed = dup.Closed
	}

	if kept.Address == "" {
		kept.Address = dup.Address
	}

	if kept.PostalCode == "" {
		kept.PostalCode = dup.PostalCode
	}

	if kept.City == "" {
		kept.City = dup.City
	}

	if kept.ActivityCode == "" {
		kept.ActivityCode = dup.ActivityCode
	}

	if kept.Capital == "" {
		kept.Capital = dup.Capital
	}

	if len(kept.Directors) == 0 {
		kept.Directors = dup.Directors
	}

	if kept.PappersURL == "" {
		kept.PappersURL = dup.PappersURL
	}

	if kept.LastAnnouncement == nil {
		kept.LastAnnouncement = dup.LastAnnouncement
	}
}

// nameScore rates how well a record name matches the normalized query.
// Weights follow the registry match scoring used for INPI/GOUV result
// filtering: exact match 100, close containment 80, loose containment 40.
func nameScore(name, queryNorm string) float64 {
	if queryNorm == "" {
		return 0
	}

	nameNorm := strings.ToLower(NormalizeCompanyName(name))
	if nameNorm == "" {
		return 0
	}

	if nameNorm == queryNorm {
		return 100
	}

	bare := strings.ToLower(removeLegalForm(NormalizeCompanyName(name)))
	if bare == queryNorm {
		return 90
	}

	queryWords := strings.Fields(queryNorm)

	if strings.Contains(nameNorm, queryNorm) {
		nameWords := strings.Fields(nameNorm)
		if len(nameWords) <= len(queryWords)+2 {
			return 80
		}

		return 40
	}

	if strings.Contains(queryNorm, nameNorm) && len(nameNorm) > 5 {
		return 30
	}

	if len(queryWords) == 0 {
		return 0
	}

	matched := 0
	for _, word := range queryWords {
		if strings.Contains(nameNorm, word) {
			matched++
		}
	}

	return 20 * float64(matched) / float64(len(queryWords))
}
