package pappers

import (
	"context"
	"sync"

	"github.com/gosom/scrapemate"
)

// collector accumulates scraped results across the job pipeline. One
// collector serves one fetch, so its contents are read after the app stops.
type collector struct {
	mu        sync.Mutex
	directors []string
	emails    []string
}

func newCollector() *collector {
	return &collector{}
}

func (c *collector) Run(_ context.Context, in <-chan scrapemate.Result) error {
	for result := range in {
		scraped, ok := result.Data.(*scrapedCompany)
		if !ok {
			continue
		}

		c.mu.Lock()
		c.directors = append(c.directors, scraped.Directors...)
		c.emails = append(c.emails, scraped.Emails...)
		c.mu.Unlock()
	}

	return nil
}

func (c *collector) results() (directors, emails []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.directors, c.emails
}
