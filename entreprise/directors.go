package entreprise

import (
	"context"
	"log/slog"
)

// PappersFetcher scrapes directors and contact emails off the public
// pappers.fr company page. Implemented by the pappers package; declared
// here so the chain depends on the capability, not the scraper.
type PappersFetcher interface {
	FetchDirectors(ctx context.Context, company *Company) (directors, emails []string, err error)
}

// DirectorsService resolves company directors through a fallback chain:
// INPI formality first, then the public annuaire, then a pappers.fr scrape.
// Each step is tried once; there is no retry.
type DirectorsService struct {
	inpi    *InpiClient
	gouv    *GouvClient
	pappers PappersFetcher
	logger  *slog.Logger
}

func NewDirectorsService(inpi *InpiClient, gouv *GouvClient, pappers PappersFetcher, logger *slog.Logger) *DirectorsService {
	if logger == nil {
		logger = slog.Default()
	}

	return &DirectorsService{inpi: inpi, gouv: gouv, pappers: pappers, logger: logger}
}

// Directors returns the directors of a company plus any contact emails the
// pappers fallback discovered along the way.
func (s *DirectorsService) Directors(ctx context.Context, company *Company) ([]string, []string, error) {
	if company == nil || company.Siren == "" {
		return nil, nil, NewError(KindValidation, "", "company siren is required")
	}

	if s.inpi != nil && s.inpi.Configured() {
		directors, err := s.inpi.Directors(ctx, company.Siren)
		if err == nil && len(directors) > 0 {
			return directors, nil, nil
		}

		if err != nil && KindOf(err) != KindNotFound {
			s.logger.Warn("inpi directors lookup failed", "siren", company.Siren, "error", err)
		}
	}

	if s.gouv != nil {
		companies, err := s.gouv.Lookup(ctx, company.Siren, LookupSiren, SearchOptions{MaxResults: 1})
		if err == nil {
			for _, match := range companies {
				if match.Siren == company.Siren && len(match.Directors) > 0 {
					return match.Directors, nil, nil
				}
			}
		} else {
			s.logger.Warn("annuaire directors lookup failed", "siren", company.Siren, "error", err)
		}
	}

	if s.pappers != nil {
		directors, emails, err := s.pappers.FetchDirectors(ctx, company)
		if err == nil && len(directors) > 0 {
			return directors, emails, nil
		}

		if err != nil {
			s.logger.Warn("pappers directors scrape failed", "siren", company.Siren, "error", err)
		}
	}

	return nil, nil, NewError(KindNotFound, "", "no directors found for siren "+company.Siren)
}
