package postgres

import (
	"strings"

	"github.com/gosom/registre-express/entreprise"
)

const defaultSearchLimit = 20

// CompanySearchQuery builds the local-search SELECT. Numeric terms match on
// SIREN prefix, everything else on the normalized company name.
type CompanySearchQuery struct {
	term  string
	limit int
}

// NewCompanySearchQuery creates a new CompanySearchQuery builder.
func NewCompanySearchQuery(term string, limit int) *CompanySearchQuery {
	return &CompanySearchQuery{
		term:  term,
		limit: limit,
	}
}

// Build returns the SQL query string and arguments for the company search.
func (q *CompanySearchQuery) Build() (string, []interface{}, bool) {
	term := strings.TrimSpace(q.term)
	if term == "" {
		return "", nil, false
	}

	limit := q.limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	digits := strings.ReplaceAll(term, " ", "")
	if isDigits(digits) {
		query := `SELECT data FROM companies
			WHERE siren LIKE $1 || '%'
			ORDER BY siren
			LIMIT $2`

		return query, []interface{}{digits, limit}, true
	}

	query := `SELECT data FROM companies
		WHERE name_normalized LIKE '%' || $1 || '%'
		ORDER BY name
		LIMIT $2`

	return query, []interface{}{entreprise.NormalizeCompanyName(term), limit}, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}

	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}

	return true
}
