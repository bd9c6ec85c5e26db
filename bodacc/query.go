package bodacc

import (
	"fmt"
	"strings"
)

// shortenForSearch reshapes a company name for the full-text index. Short
// all-caps names are published dotted ("SNC" appears as "S.N.C"), and long
// names match better on their first two words.
func shortenForSearch(companyName string) string {
	if companyName == strings.ToUpper(companyName) && len(companyName) < 10 {
		chars := strings.Split(companyName, "")
		return strings.Join(chars, ".")
	}

	if len(companyName) > 30 {
		words := strings.Fields(companyName)
		if len(words) >= 2 {
			return strings.Join(words[:2], " ")
		}
	}

	return companyName
}

// likeConditions builds the per-word fallback clause used when the full-text
// search comes back empty.
func likeConditions(companyName string) string {
	words := strings.Fields(strings.TrimSpace(companyName))

	conditions := make([]string, 0, len(words))
	for _, word := range words {
		conditions = append(conditions, `commercant like "%`+word+`%"`)
	}

	return strings.Join(conditions, " OR ")
}

func whereSiren(siren string) string {
	return fmt.Sprintf(`registre like "%%%s%%"`, strings.ReplaceAll(siren, " ", ""))
}

func whereName(name string) string {
	return fmt.Sprintf(`search(commercant, %q)`, name)
}
