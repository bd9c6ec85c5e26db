package documents

import (
	"bytes"
	"html/template"
	"sort"
	"time"

	"github.com/gosom/registre-express/entreprise"
)

// familyLabels maps BODACC familleavis codes to readable report labels.
var familyLabels = map[string]string{
	"creation":     "Créations",
	"modification": "Modifications",
	"radiation":    "Radiations",
	"dpc":          "Dépôts des comptes",
	"pcl":          "Procédures collectives",
	"annonce":      "Annonces",
	"rectificatif": "Rectificatifs",
}

type familyCount struct {
	Label string
	Count int
}

type reportData struct {
	Siren         string
	Name          string
	Generated     string
	Families      []familyCount
	Announcements []entreprise.Announcement
}

var reportTemplate = template.Must(template.New("bodacc-report").Parse(`<!DOCTYPE html>
<html lang="fr">
<head>
<meta charset="utf-8">
<title>Annonces BODACC {{.Siren}}</title>
<style>
body { font-family: Arial, Helvetica, sans-serif; margin: 2rem; color: #1a1a2e; }
header { border-bottom: 2px solid #16213e; padding-bottom: 1rem; margin-bottom: 1.5rem; }
header h1 { margin: 0 0 0.25rem 0; font-size: 1.5rem; }
header p { margin: 0.15rem 0; color: #555; }
.summary { display: flex; gap: 1rem; flex-wrap: wrap; margin-bottom: 1.5rem; }
.summary div { background: #f0f3f8; border-radius: 6px; padding: 0.6rem 1rem; }
.summary .count { font-size: 1.3rem; font-weight: bold; margin-right: 0.4rem; }
article { border: 1px solid #d8dee9; border-radius: 6px; padding: 1rem; margin-bottom: 1rem; }
article h2 { margin: 0 0 0.5rem 0; font-size: 1.05rem; text-transform: capitalize; }
dl { display: grid; grid-template-columns: 9rem auto; margin: 0; }
dt { color: #555; }
dd { margin: 0 0 0.3rem 0; }
</style>
</head>
<body>
<header>
<h1>{{if .Name}}{{.Name}}{{else}}SIREN {{.Siren}}{{end}}</h1>
<p>SIREN {{.Siren}}</p>
<p>Rapport des annonces BODACC, généré le {{.Generated}}</p>
</header>
<section class="summary">
{{range .Families}}<div><span class="count">{{.Count}}</span>{{.Label}}</div>
{{end}}</section>
<section>
{{range .Announcements}}<article>
<h2>{{.Type}}</h2>
<dl>
<dt>Date de parution</dt><dd>{{.Date}}</dd>
{{if .Title}}<dt>Titre</dt><dd>{{.Title}}</dd>{{end}}
{{if .Court}}<dt>Tribunal</dt><dd>{{.Court}}</dd>{{end}}
{{if .City}}<dt>Ville</dt><dd>{{.City}}</dd>{{end}}
{{if .Registre}}<dt>Registre</dt><dd>{{.Registre}}</dd>{{end}}
{{if .URL}}<dt>Annonce</dt><dd><a href="{{.URL}}">{{.URL}}</a></dd>{{end}}
</dl>
</article>
{{end}}</section>
</body>
</html>
`))

// renderReport synthesizes the BODACC announcement report. The same
// announcement set always yields the same records in the same order; only
// the generation timestamp differs between runs.
func renderReport(siren, name string, announcements []entreprise.Announcement) ([]byte, error) {
	counts := make(map[string]int)
	for _, a := range announcements {
		counts[a.Type]++
	}

	families := make([]familyCount, 0, len(counts))

	for code, count := range counts {
		label, ok := familyLabels[code]
		if !ok {
			label = code
		}

		families = append(families, familyCount{Label: label, Count: count})
	}

	sort.Slice(families, func(i, j int) bool {
		return families[i].Label < families[j].Label
	})

	data := reportData{
		Siren:         siren,
		Name:          name,
		Generated:     time.Now().Format("02/01/2006 15:04"),
		Families:      families,
		Announcements: announcements,
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
