package bodacc

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// parsePersonnes decodes the embedded listepersonnes fragment and returns the
// administration names plus the legal form. The administration field is
// sometimes a string, sometimes an array of strings.
func parsePersonnes(listepersonnes *string) ([]string, string) {
	if listepersonnes == nil {
		return nil, ""
	}

	var data parsedPersonnes
	if err := json.Unmarshal([]byte(*listepersonnes), &data); err != nil {
		slog.Debug("bodacc listepersonnes fragment did not parse", "error", err)
		return nil, ""
	}

	if data.Personne == nil {
		return nil, ""
	}

	var directors []string

	switch admin := data.Personne.Administration.(type) {
	case []interface{}:
		for _, item := range admin {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				directors = append(directors, strings.TrimSpace(s))
			}
		}
	case string:
		if clean := strings.TrimSpace(admin); clean != "" {
			directors = append(directors, clean)
		}
	}

	forme := ""
	if data.Personne.FormeJuridique != nil {
		forme = *data.Personne.FormeJuridique
	}

	return directors, forme
}

// parseDepot pulls the accounting-period close date out of a dpc record's
// depot fragment.
func parseDepot(depot *string) string {
	if depot == nil {
		return ""
	}

	var data parsedDepot
	if err := json.Unmarshal([]byte(*depot), &data); err != nil {
		slog.Debug("bodacc depot fragment did not parse", "error", err)
		return ""
	}

	if data.DateCloture != nil {
		return *data.DateCloture
	}

	return ""
}
