package pappers

import (
	"errors"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mcnijman/go-emailaddress"
)

var (
	emailRegex       = regexp.MustCompile(`(?i)^[a-z0-9._%+\-]+@[a-z0-9\-]+\.[a-z\-]+$`)
	excludedDomains  = []string{"sentry", "example", "wix", "pappers"}
	excludedSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp"}
)

// extractEmails merges mailto links with addresses found in the raw HTML.
func extractEmails(doc *goquery.Document, body []byte) []string {
	seen := map[string]bool{}

	var emails []string

	doc.Find("a[href^='mailto:']").Each(func(_ int, s *goquery.Selection) {
		mailto, ok := s.Attr("href")
		if !ok {
			return
		}

		email, err := getValidEmail(strings.TrimPrefix(mailto, "mailto:"))
		if err != nil || seen[email] {
			return
		}

		emails = append(emails, email)
		seen[email] = true
	})

	for _, address := range emailaddress.Find(body, false) {
		email, err := getValidEmail(address.String())
		if err != nil || seen[email] {
			continue
		}

		emails = append(emails, email)
		seen[email] = true
	}

	for _, match := range emailRegex.FindAllString(string(body), -1) {
		email, err := getValidEmail(match)
		if err != nil || seen[email] {
			continue
		}

		emails = append(emails, email)
		seen[email] = true
	}

	return emails
}

func getValidEmail(s string) (string, error) {
	email, err := emailaddress.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", err
	}

	emailStr := email.String()

	lower := strings.ToLower(emailStr)
	lowerInput := strings.ToLower(s)

	for _, domain := range excludedDomains {
		if strings.Contains(lower, domain) {
			return "", errors.New("email contains excluded domain")
		}
	}

	for _, suffix := range excludedSuffixes {
		if strings.HasSuffix(lower, suffix) || strings.Contains(lowerInput, suffix) {
			return "", errors.New("email contains excluded suffix")
		}
	}

	return emailStr, nil
}
