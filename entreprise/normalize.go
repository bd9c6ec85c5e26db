package entreprise

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	sirenRe      = regexp.MustCompile(`^\d{9}$`)
	nonWordRe    = regexp.MustCompile(`[^\w\s]`)
	multiSpaceRe = regexp.MustCompile(`\s+`)
	postalCodeRe = regexp.MustCompile(`(\d{5})`)
)

var legalForms = []string{
	"SARL", "SA", "SAS", "SASU", "SNC", "SCS", "SCA", "SCE", "SCIC",
	"SELARL", "SELAS", "SELAFA", "SELCA", "EURL", "EIRL", "SCI", "SCM", "SEL",
}

// IsSiren reports whether s is a 9-digit SIREN once spaces are removed.
func IsSiren(s string) bool {
	return sirenRe.MatchString(strings.ReplaceAll(s, " ", ""))
}

// NormalizeSiren strips spaces and returns the SIREN, or "" when the value
// is not exactly 9 digits.
func NormalizeSiren(s string) string {
	stripped := strings.ReplaceAll(s, " ", "")
	if !sirenRe.MatchString(stripped) {
		return ""
	}

	return stripped
}

// ResolveKind turns LookupAuto into a concrete kind based on the query shape.
func ResolveKind(query string, kind LookupKind) LookupKind {
	if kind != LookupAuto {
		return kind
	}

	if IsSiren(query) {
		return LookupSiren
	}

	return LookupName
}

// SanitizeQuery strips characters that read as markup downstream. The
// original query is kept separately for echo-back.
func SanitizeQuery(query string) string {
	sanitized := strings.ReplaceAll(query, "<", "")
	sanitized = strings.ReplaceAll(sanitized, ">", "")

	return strings.TrimSpace(sanitized)
}

// NormalizeCompanyName folds accents and punctuation so names compare across
// registries that disagree on casing and diacritics.
func NormalizeCompanyName(name string) string {
	normalized := strings.TrimSpace(name)
	normalized = strings.ReplaceAll(normalized, "&", "ET")
	normalized = strings.ToUpper(normalized)

	normalized = norm.NFD.String(normalized)

	var builder strings.Builder

	for _, r := range normalized {
		if unicode.IsMark(r) {
			continue
		}

		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			builder.WriteRune(r)
		} else {
			builder.WriteRune(' ')
		}
	}

	normalized = nonWordRe.ReplaceAllString(builder.String(), " ")
	normalized = multiSpaceRe.ReplaceAllString(normalized, " ")

	return strings.TrimSpace(normalized)
}

func removeLegalForm(name string) string {
	cleaned := name
	for _, form := range legalForms {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(form) + `\b`)
		cleaned = re.ReplaceAllString(cleaned, "")
	}

	cleaned = multiSpaceRe.ReplaceAllString(cleaned, " ")

	return strings.TrimSpace(cleaned)
}

// ExtractDepartmentNumber returns the two-digit department from the first
// postal code found in an address, or "" when none is present.
func ExtractDepartmentNumber(address string) string {
	match := postalCodeRe.FindStringSubmatch(address)
	if len(match) > 1 {
		return match[1][:2]
	}

	return ""
}

// CreatePappersURL builds the public pappers.fr company page URL.
func CreatePappersURL(name, siren string) string {
	cleaned := strings.ToLower(strings.TrimSpace(name))
	cleaned = strings.ReplaceAll(cleaned, " ", "-")

	return fmt.Sprintf("https://www.pappers.fr/entreprise/%s-%s", cleaned, siren)
}
