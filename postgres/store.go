package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/gosom/registre-express/entreprise"
)

// Store keeps curated companies in postgres. Expected table:
//
//	CREATE TABLE companies (
//		siren TEXT PRIMARY KEY,
//		name TEXT NOT NULL,
//		name_normalized TEXT NOT NULL,
//		data JSONB NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL
//	)
//
// Schema management stays outside this package.
type Store struct {
	db *sql.DB
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{db: db}, nil
}

// NewStoreFromDB wraps an existing connection.
func NewStoreFromDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Search(ctx context.Context, query string, limit int) ([]entreprise.Company, error) {
	q, args, ok := NewCompanySearchQuery(query, limit).Build()
	if !ok {
		return nil, entreprise.NewError(entreprise.KindValidation, entreprise.SourceLocal, "empty search term")
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
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

	const q = `SELECT data FROM companies WHERE siren = $1`

	var raw []byte

	err := s.db.QueryRowContext(ctx, q, normalized).Scan(&raw)
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

const upsertQuery = `INSERT INTO companies (siren, name, name_normalized, data, updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (siren) DO UPDATE SET
		name = EXCLUDED.name,
		name_normalized = EXCLUDED.name_normalized,
		data = EXCLUDED.data,
		updated_at = EXCLUDED.updated_at`

func (s *Store) Save(ctx context.Context, company *entreprise.Company) error {
	row, err := newCompanyRow(company)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, upsertQuery, row.args()...); err != nil {
		return entreprise.WrapError(entreprise.KindDatabase, entreprise.SourceLocal, "company save failed", err)
	}

	return nil
}

// SaveAll upserts companies in one multi-row statement. Records without a
// valid SIREN are skipped; duplicate SIRENs keep the last record.
func (s *Store) SaveAll(ctx context.Context, companies []entreprise.Company) error {
	rows := make(map[string]*companyRow, len(companies))
	order := make([]string, 0, len(companies))

	for i := range companies {
		row, err := newCompanyRow(&companies[i])
		if err != nil {
			continue
		}

		if _, seen := rows[row.siren]; !seen {
			order = append(order, row.siren)
		}

		rows[row.siren] = row
	}

	if len(order) == 0 {
		return nil
	}

	q := `INSERT INTO companies (siren, name, name_normalized, data, updated_at) VALUES `

	elements := make([]string, 0, len(order))
	args := make([]interface{}, 0, len(order)*5)

	for _, siren := range order {
		n := len(elements)
		elements = append(elements, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)",
			n*5+1, n*5+2, n*5+3, n*5+4, n*5+5))
		args = append(args, rows[siren].args()...)
	}

	q += strings.Join(elements, ", ")
	q += ` ON CONFLICT (siren) DO UPDATE SET
		name = EXCLUDED.name,
		name_normalized = EXCLUDED.name_normalized,
		data = EXCLUDED.data,
		updated_at = EXCLUDED.updated_at`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return entreprise.WrapError(entreprise.KindDatabase, entreprise.SourceLocal, "failed to begin transaction", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return entreprise.WrapError(entreprise.KindDatabase, entreprise.SourceLocal, "company batch save failed", err)
	}

	if err := tx.Commit(); err != nil {
		return entreprise.WrapError(entreprise.KindDatabase, entreprise.SourceLocal, "company batch commit failed", err)
	}

	slog.Debug("saved companies", "count", len(elements))

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type companyRow struct {
	siren          string
	name           string
	nameNormalized string
	data           []byte
	updatedAt      time.Time
}

func newCompanyRow(company *entreprise.Company) (*companyRow, error) {
	siren := entreprise.NormalizeSiren(company.Siren)
	if siren == "" {
		return nil, entreprise.NewError(entreprise.KindValidation, entreprise.SourceLocal,
			fmt.Sprintf("invalid SIREN %q", company.Siren))
	}

	normalized := *company
	normalized.Siren = siren

	data, err := json.Marshal(&normalized)
	if err != nil {
		return nil, entreprise.WrapError(entreprise.KindDatabase, entreprise.SourceLocal,
			"failed to encode company", err)
	}

	return &companyRow{
		siren:          siren,
		name:           company.Name,
		nameNormalized: entreprise.NormalizeCompanyName(company.Name),
		data:           data,
		updatedAt:      time.Now().UTC(),
	}, nil
}

func (r *companyRow) args() []interface{} {
	return []interface{}{r.siren, r.name, r.nameNormalized, r.data, r.updatedAt}
}
