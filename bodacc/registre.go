package bodacc

import (
	"regexp"
	"strings"
)

var sirenRunRe = regexp.MustCompile(`\b\d{9}\b`)

// SirenFromRegistre extracts the 9-digit SIREN from the registre field. The
// dataset publishes it as "123 456 789,123456789": the RCS number with
// grouping spaces followed by the bare SIREN. The second component wins when
// it collapses to 9 digits; any other component that does is next, then a
// clean 9-digit run anywhere in the raw text.
func SirenFromRegistre(registre []string) string {
	parts := registre
	if len(parts) == 1 && strings.Contains(parts[0], ",") {
		parts = strings.Split(parts[0], ",")
	}

	if len(parts) >= 2 {
		if siren := digitsOnly(parts[1]); len(siren) == 9 {
			return siren
		}
	}

	for _, part := range parts {
		if siren := digitsOnly(part); len(siren) == 9 {
			return siren
		}
	}

	return sirenRunRe.FindString(strings.Join(parts, " "))
}

func digitsOnly(s string) string {
	var b strings.Builder

	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	return b.String()
}
