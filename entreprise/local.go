package entreprise

import (
	"context"
)

const defaultLocalLimit = 20

// LocalClient adapts the persisted company table to the registry client
// capability so the orchestrator can fan out to it like any other source.
type LocalClient struct {
	store CompanyStore
}

func NewLocalClient(store CompanyStore) *LocalClient {
	return &LocalClient{store: store}
}

func (c *LocalClient) Source() Source {
	return SourceLocal
}

func (c *LocalClient) Configured() bool {
	return c.store != nil
}

func (c *LocalClient) Lookup(ctx context.Context, query string, _ LookupKind, opts SearchOptions) ([]Company, error) {
	limit := opts.MaxResults
	if limit <= 0 {
		limit = defaultLocalLimit
	}

	companies, err := c.store.Search(ctx, query, limit)
	if err != nil {
		return nil, WrapError(KindDatabase, SourceLocal, "local lookup failed", err)
	}

	for i := range companies {
		companies[i].Source = SourceLocal
	}

	return companies, nil
}
