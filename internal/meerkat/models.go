// Package meerkat is the client for the Meerkat API, the source
// catalogue of locations, devices, and form schemas that this service
// mirrors into DHIS2.
package meerkat

import "time"

// TreeNode is one node of the /locationtree response. Children arrive
// ordered; synchronization preserves that order.
type TreeNode struct {
	ID    int        `json:"id"`
	Text  string     `json:"text"`
	Nodes []TreeNode `json:"nodes"`
}

// Location is the /location/<id> detail. CountryLocationID is the
// natural code a DHIS2 organisation unit is filed under; it may be
// empty for administrative-only nodes.
type Location struct {
	ID                int    `json:"id"`
	Name              string `json:"name"`
	CountryLocationID string `json:"country_location_id"`
	StartDate         string `json:"start_date"`
	ParentLocation    int    `json:"parent_location"`
	CaseReport        int    `json:"case_report"`
	Level             string `json:"level"`
	DeviceID          string `json:"deviceid"`
}

const defaultOpeningDate = "1970-01-01"

var startDateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02",
}

// OpeningDate renders the location's start date in DHIS2's date format,
// falling back to the epoch when the catalogue has no usable date.
func (l Location) OpeningDate() string {
	if l.StartDate == "" {
		return defaultOpeningDate
	}
	for _, layout := range startDateLayouts {
		if t, err := time.Parse(layout, l.StartDate); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return defaultOpeningDate
}

// IsOperationalClinic reports whether the location should receive data
// entry access in DHIS2: it files case reports and sits at clinic level.
func (l Location) IsOperationalClinic() bool {
	return l.CaseReport != 0 && l.Level == "clinic"
}

// Field is one entry of a form schema from /export/forms.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}
