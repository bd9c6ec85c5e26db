// Package sqlitestore is the embedded default company store, used when no
// postgres DSN is configured.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gosom/registre-express/entreprise"
)

const defaultSearchLimit = 20

const schema = `
CREATE TABLE IF NOT EXISTS companies (
	siren TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	name_normalized TEXT NOT NULL,
	data TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_companies_name ON companies(name_normalized);
`

type Store struct {
	db *sql.DB
}

// NewStore opens (and creates when missing) the database at path and
// bootstraps the schema.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// modernc sqlite serializes writes; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to bootstrap sqlite schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Search(ctx context.Context, query string, limit int) ([]entreprise.Company, error) {
	term := strings.TrimSpace(query)
	if term == "" {
		return nil, entreprise.NewError(entreprise.KindValidation, entreprise.SourceLocal, "empty search term")
	}

	if limit <= 0 {
		limit = defaultSearchLimit
	}

	var (
		q   string
		arg string
	)

	digits := strings.ReplaceAll(term, " ", "")
	if isDigits(digits) {
		q = `SELECT data FROM companies WHERE siren LIKE ? || '%' ORDER BY siren LIMIT ?`
		arg = digits
	} else {
		q = `SELECT data FROM companies WHERE name_normalized LIKE '%' || ? || '%' ORDER BY name LIMIT ?`
		arg = entreprise.NormalizeCompanyName(term)
	}

	rows, err := s.db.QueryContext(ctx, q, arg, limit)
	if err != nil {
		return nil, entreprise.WrapError(entreprise.KindDatabase, entreprise.SourceLocal, "company search failed", err)
	}
	defer rows.Close()

	var companies []entreprise.Company

	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, entreprise.WrapError(entreprise.KindDatabase, entreprise.SourceLocal, "company row scan failed", err)
		}

		var company entreprise.Company
		if err := json.Unmarshal(raw, &company); err != nil {
			return nil, entreprise.WrapError(entreprise.KindDatabase, entreprise.SourceLocal, "corrupt company payload", err)
		}

		companies = append(companies, company)
	}

	if err := rows.Err(); err != nil {
		return nil, entreprise.WrapError(entreprise.KindDatabase, entreprise.SourceLocal, "company search failed", err)
	}

	return companies, nil
}

func (s *Store) GetBySiren(ctx context.Context, siren string) (*entreprise.Company, error) {
	normalized := entreprise.NormalizeSiren(siren)
	if normalized == "" {
		return nil, entreprise.NewError(entreprise.KindValidation, entreprise.SourceLocal,
			fmt.Sprintf("invalid SIREN %q", siren))
	}

	var raw []byte

	err := s.db.QueryRowContext(ctx, `SELECT data FROM companies WHERE siren = ?`, normalized).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entreprise.NewError(entreprise.KindNotFound, entreprise.SourceLocal,
			fmt.Sprintf("no company with SIREN %s", normalized))
	}

	if err != nil {
		return nil, entreprise.WrapError(entreprise.KindDatabase, entreprise.SourceLocal, "company lookup failed", err)
	}

	var company entreprise.Company
	if err := json.Unmarshal(raw, &company); err != nil {
		return nil, entreprise.WrapError(entreprise.KindDatabase, entreprise.SourceLocal, "corrupt company payload", err)
	}

	return &company, nil
}

func (s *Store) Save(ctx context.Context, company *entreprise.Company) error {
	siren := entreprise.NormalizeSiren(company.Siren)
	if siren == "" {
		return entreprise.NewError(entreprise.KindValidation, entreprise.SourceLocal,
			fmt.Sprintf("invalid SIREN %q", company.Siren))
	}

	normalized := *company
	normalized.Siren = siren

	data, err := json.Marshal(&normalized)
	if err != nil {
		return entreprise.WrapError(entreprise.KindDatabase, entreprise.SourceLocal, "failed to encode company", err)
	}

	const q = `INSERT INTO companies (siren, name, name_normalized, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (siren) DO UPDATE SET
			name = excluded.name,
			name_normalized = excluded.name_normalized,
			data = excluded.data,
			updated_at = excluded.updated_at`

	_, err = s.db.ExecContext(ctx, q,
		siren, company.Name, entreprise.NormalizeCompanyName(company.Name), data,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return entreprise.WrapError(entreprise.KindDatabase, entreprise.SourceLocal, "company save failed", err)
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
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
