package pappers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/gosom/scrapemate"
	"github.com/playwright-community/playwright-go"
)

// DirectorsJob fetches one company page and pulls the directors table plus
// any contact addresses out of it.
type DirectorsJob struct {
	scrapemate.Job
}

func NewDirectorsJob(pappersURL string) *DirectorsJob {
	const (
		defaultPrio       = scrapemate.PriorityHigh
		defaultMaxRetries = 2
	)

	return &DirectorsJob{
		Job: scrapemate.Job{
			ID:         uuid.New().String(),
			Method:     http.MethodGet,
			URL:        pappersURL,
			MaxRetries: defaultMaxRetries,
			Priority:   defaultPrio,
		},
	}
}

func (j *DirectorsJob) Process(_ context.Context, resp *scrapemate.Response) (any, []scrapemate.IJob, error) {
	defer func() {
		resp.Document = nil
		resp.Body = nil
		resp.Meta = nil
	}()

	if resp.Error != nil {
		return nil, nil, resp.Error
	}

	doc, ok := resp.Document.(*goquery.Document)
	if !ok {
		return nil, nil, fmt.Errorf("could not convert document to goquery.Document")
	}

	result := &scrapedCompany{
		URL:       j.GetURL(),
		Directors: extractDirectors(doc),
		Emails:    extractEmails(doc, resp.Body),
	}

	return result, nil, nil
}

func (j *DirectorsJob) BrowserActions(_ context.Context, page playwright.Page) scrapemate.Response {
	var resp scrapemate.Response

	pageResponse, err := page.Goto(j.GetURL(), playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		resp.Error = err
		return resp
	}

	// The consent wall hides the directors table until dismissed.
	rejectCookiesIfShown(page)

	resp.URL = pageResponse.URL()
	resp.StatusCode = pageResponse.Status()
	resp.Headers = make(http.Header, len(pageResponse.Headers()))

	for k, v := range pageResponse.Headers() {
		resp.Headers.Add(k, v)
	}

	content, err := page.Content()
	if err != nil {
		resp.Error = err
		return resp
	}

	resp.Body = []byte(content)

	return resp
}

func rejectCookiesIfShown(page playwright.Page) {
	const bannerTimeout = 1500

	button := page.Locator("#didomi-notice-disagree-button")

	err := button.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(bannerTimeout),
	})
	if err != nil {
		return
	}

	_ = button.Click()
}

func extractDirectors(doc *goquery.Document) []string {
	var directors []string

	doc.Find("td.info-dirigeant a.underline").Each(func(_ int, s *goquery.Selection) {
		name := strings.TrimSpace(s.Text())
		if name != "" {
			directors = append(directors, name)
		}
	})

	return directors
}

type scrapedCompany struct {
	URL       string   `json:"url"`
	Directors []string `json:"directors"`
	Emails    []string `json:"emails"`
}
