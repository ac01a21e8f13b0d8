package models

type Voter struct {
	VoterID      string `json:"voter_id"`
	Name         string `json:"name"`
	Constituency string `json:"constituency"`
	IsActive     bool   `json:"is_active"`
}

type Candidate struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	PartyName      string `json:"party_name"`
	PartyShortName string `json:"party_short_name"`
	PartyColor     string `json:"party_color"`
	Constituency   string `json:"constituency"`
	LogoURL        string `json:"logo_url,omitempty"`
}
