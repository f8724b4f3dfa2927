package model

import "strings"

// Account is one loyalty account's credential bundle. It is loaded from
// configuration at start-up and never modified afterwards.
type Account struct {
	Name            string `json:"name" yaml:"name"`
	ClientID        string `json:"-" yaml:"client_id"`
	HashCRN         string `json:"-" yaml:"hashcrn"`
	APIKey          string `json:"-" yaml:"api_key"`
	SecondaryAPIKey string `json:"-" yaml:"secondary_api_key"`
}

// MissingFields lists the required credential fields that are empty, using
// their configuration key names.
func (a Account) MissingFields() []string {
	var out []string
	if strings.TrimSpace(a.ClientID) == "" {
		out = append(out, "client_id")
	}
	if strings.TrimSpace(a.HashCRN) == "" {
		out = append(out, "hashcrn")
	}
	if strings.TrimSpace(a.APIKey) == "" {
		out = append(out, "api_key")
	}
	if strings.TrimSpace(a.SecondaryAPIKey) == "" {
		out = append(out, "secondary_api_key")
	}
	return out
}
