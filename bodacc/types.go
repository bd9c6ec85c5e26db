package bodacc

// Raw record shapes for the annonces-commerciales dataset. Two fields arrive
// as JSON fragments embedded in strings (listepersonnes, depot), hence the
// second-stage parsing in personnes.go.

type annonce struct {
	Familleavis       string   `json:"familleavis"`
	Typeavis          string   `json:"typeavis"`
	Registre          []string `json:"registre"`
	Depot             *string  `json:"depot,omitempty"`
	Listepersonnes    *string  `json:"listepersonnes,omitempty"`
	Dateparution      string   `json:"dateparution"`
	URLComplete       string   `json:"url_complete"`
	Commercant        string   `json:"commercant"`
	Ville             string   `json:"ville"`
	Tribunal          string   `json:"tribunal"`
	Numerodepartement string   `json:"numerodepartement"`
}

type apiResponse struct {
	TotalCount int       `json:"total_count"`
	Results    []annonce `json:"results"`
}

type parsedPersonnes struct {
	Personne *struct {
		Administration interface{} `json:"administration,omitempty"`
		FormeJuridique *string     `json:"formeJuridique,omitempty"`
	} `json:"personne,omitempty"`
}

type parsedDepot struct {
	DateCloture *string `json:"dateCloture,omitempty"`
}
