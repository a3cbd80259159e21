package domain

import "github.com/shopspring/decimal"

// RateComponent is one entry in a jurisdiction's rate table.
type RateComponent struct {
	Name     string
	Rate     decimal.Decimal
	Compound bool
}

var (
	gst5  = RateComponent{Name: "GST", Rate: decimal.RequireFromString("0.05")}
	hst13 = RateComponent{Name: "HST", Rate: decimal.RequireFromString("0.13")}
	hst15 = RateComponent{Name: "HST", Rate: decimal.RequireFromString("0.15")}
)

// rateTable is fixed at build time. Order matters for compound components.
var rateTable = map[Jurisdiction][]RateComponent{
	"CA-AB": {gst5},
	"CA-NT": {gst5},
	"CA-NU": {gst5},
	"CA-YT": {gst5},
	"CA-ON": {hst13},
	"CA-NB": {hst15},
	"CA-NL": {hst15},
	"CA-NS": {hst15},
	"CA-PE": {hst15},
	"CA-BC": {gst5, {Name: "PST", Rate: decimal.RequireFromString("0.07")}},
	"CA-MB": {gst5, {Name: "RST", Rate: decimal.RequireFromString("0.07")}},
	"CA-SK": {gst5, {Name: "PST", Rate: decimal.RequireFromString("0.06")}},
	"CA-QC": {gst5, {Name: "QST", Rate: decimal.RequireFromString("0.09975"), Compound: true}},

	// No tax collected.
	"US-NONE": {},
	"INTL":    {},
}

// Rates returns a copy of the components for j.
func Rates(j Jurisdiction) ([]RateComponent, bool) {
	components, ok := rateTable[j.Normalize()]
	if !ok {
		return nil, false
	}
	out := make([]RateComponent, len(components))
	copy(out, components)
	return out, true
}

// Jurisdictions lists every supported code.
func Jurisdictions() []Jurisdiction {
	out := make([]Jurisdiction, 0, len(rateTable))
	for j := range rateTable {
		out = append(out, j)
	}
	return out
}
