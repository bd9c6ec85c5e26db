package documents

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gosom/registre-express/entreprise"
)

func TestRenderReportContainsEveryAnnouncement(t *testing.T) {
	announcements := []entreprise.Announcement{
		{Type: "modification", Date: "2024-05-12", Court: "TRIBUNAL DE COMMERCE D'EVRY", Registre: "552032534"},
		{Type: "dpc", Date: "2023-07-01", City: "Massy", Title: "CARREFOUR (comptes clos au 2023-01-31)"},
		{Type: "modification", Date: "2021-01-15"},
		{Type: "creation", Date: "1959-07-11"},
	}

	data, err := renderReport("552032534", "CARREFOUR", announcements)
	if err != nil {
		t.Fatalf("renderReport() error = %v", err)
	}

	html := string(data)

	for _, a := range announcements {
		if !strings.Contains(html, a.Date) {
			t.Errorf("report is missing announcement date %s", a.Date)
		}
	}

	for _, want := range []string{
		"CARREFOUR",
		"SIREN 552032534",
		"TRIBUNAL DE COMMERCE D&#39;EVRY",
		"Massy",
		"CARREFOUR (comptes clos au 2023-01-31)",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("report is missing %q", want)
		}
	}
}

func TestRenderReportCountsFamilies(t *testing.T) {
	announcements := []entreprise.Announcement{
		{Type: "modification", Date: "2024-05-12"},
		{Type: "modification", Date: "2021-01-15"},
		{Type: "dpc", Date: "2023-07-01"},
	}

	data, err := renderReport("552032534", "", announcements)
	if err != nil {
		t.Fatalf("renderReport() error = %v", err)
	}

	html := string(data)

	if !strings.Contains(html, `<span class="count">2</span>Modifications`) {
		t.Error("report is missing the modification family count")
	}

	if !strings.Contains(html, `<span class="count">1</span>Dépôts des comptes`) {
		t.Error("report is missing the dpc family count")
	}
}

func TestRenderReportUnknownFamilyKeepsCode(t *testing.T) {
	data, err := renderReport("552032534", "", []entreprise.Announcement{{Type: "divers", Date: "2020-01-01"}})
	if err != nil {
		t.Fatalf("renderReport() error = %v", err)
	}

	if !strings.Contains(string(data), "divers") {
		t.Error("unknown family code should render as-is")
	}
}

func TestRenderReportIsStableAcrossRuns(t *testing.T) {
	announcements := []entreprise.Announcement{
		{Type: "creation", Date: "2020-03-01"},
		{Type: "dpc", Date: "2023-07-01"},
		{Type: "modification", Date: "2024-05-12"},
	}

	first, err := renderReport("552032534", "CARREFOUR", announcements)
	if err != nil {
		t.Fatalf("renderReport() error = %v", err)
	}

	second, err := renderReport("552032534", "CARREFOUR", announcements)
	if err != nil {
		t.Fatalf("renderReport() error = %v", err)
	}

	if !bytes.Equal(stripGeneratedLine(first), stripGeneratedLine(second)) {
		t.Error("two renders of the same announcements differ beyond the timestamp")
	}
}

func TestRenderReportEscapesMarkup(t *testing.T) {
	data, err := renderReport("552032534", `R&D <Corp>`, []entreprise.Announcement{{Type: "creation", Date: "2020-03-01"}})
	if err != nil {
		t.Fatalf("renderReport() error = %v", err)
	}

	html := string(data)

	if strings.Contains(html, "<Corp>") {
		t.Error("company name markup was not escaped")
	}

	if !strings.Contains(html, "R&amp;D") {
		t.Error("escaped company name is missing")
	}
}

func stripGeneratedLine(report []byte) []byte {
	lines := bytes.Split(report, []byte("\n"))

	kept := make([][]byte, 0, len(lines))

	for _, line := range lines {
		if bytes.Contains(line, []byte("généré le")) {
			continue
		}

		kept = append(kept, line)
	}

	return bytes.Join(kept, []byte("\n"))
}
