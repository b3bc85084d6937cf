// Package domain contains core domain types for the hostbot relay.
package domain

import (
	"time"
)

// Profile is the grounding context for one property or business.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Locale    string    `json:"locale"`
	City      string    `json:"city"`
	Sources   []string  `json:"sources"`
	Knowledge Knowledge `json:"knowledge"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsPlaceholder reports whether the profile has not been ingested yet.
func (p *Profile) IsPlaceholder() bool {
	return p.Knowledge.IsEmpty()
}

// Knowledge is the payload produced by the most recent successful ingestion.
// At most one of Facts and Text is set; both empty means nothing is known yet.
type Knowledge struct {
	Facts *Facts `json:"facts,omitempty"`
	Text  string `json:"text,omitempty"`
}

// IsEmpty returns true if neither structured nor free-text knowledge is present.
func (k Knowledge) IsEmpty() bool {
	return k.Facts == nil && k.Text == ""
}

// Facts is the structured extraction target.
// Scalars are pointers so that "unknown" survives as JSON null.
type Facts struct {
	BusinessName *string                  `json:"business_name"`
	Address      *string                  `json:"address"`
	CheckIn      *Schedule                `json:"check_in"`
	CheckOut     *Schedule                `json:"check_out"`
	Wifi         *Wifi                    `json:"wifi"`
	HouseRules   []string                 `json:"house_rules"`
	Parking      *Parking                 `json:"parking"`
	Amenities    []string                 `json:"amenities"`
	FAQ          []FAQEntry               `json:"faq"`
	NearbyPlaces map[string][]NearbyPlace `json:"nearby_places"`
}

// Schedule describes check-in or check-out.
type Schedule struct {
	Time         *string `json:"time"`
	Instructions *string `json:"instructions"`
}

// Wifi holds network credentials.
type Wifi struct {
	Network  *string `json:"network"`
	Password *string `json:"password"`
}

// Parking holds parking availability and directions.
type Parking struct {
	Available    *bool   `json:"available"`
	Instructions *string `json:"instructions"`
}

// FAQEntry is a single question/answer pair.
type FAQEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// NearbyPlace is a recommendation in one of the nearby_places categories.
type NearbyPlace struct {
	Name     string `json:"name"`
	Reason   string `json:"reason"`
	MapsLink string `json:"maps_link"`
}

// NearbyCategories lists the categories the extractor asks for, in prompt order.
var NearbyCategories = []string{
	"restaurants",
	"cafes",
	"bars",
	"attractions",
	"activities",
	"shopping",
	"transport",
}
