package model

import "time"

// Unit is an organizational entity being tracked, e.g. a member of
// Congress keyed by bioguide ID. Units are created and overwritten only
// by upstream import; they are never deleted locally.
type Unit struct {
	UnitID      string `json:"unit_id" yaml:"unit_id"`
	IsCurrent   bool   `json:"is_current" yaml:"is_current"`
	WebsiteURL  string `json:"website_url,omitempty" yaml:"website_url,omitempty"`
	DisplayName string `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	RegionCode  string `json:"region_code,omitempty" yaml:"region_code,omitempty"`
}

// ContactEndpoint is the unit's contact page, one-to-one with Unit.
// Overwritten by upstream import only.
type ContactEndpoint struct {
	UnitID       string    `json:"unit_id" yaml:"unit_id"`
	ContactURL   string    `json:"contact_url" yaml:"contact_url"`
	LastSyncedAt time.Time `json:"last_synced_at" yaml:"-"`
}
