package features

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// CategoryTable maps a categorical value to a numeric weight. Values not in
// the table encode to Default.
type CategoryTable struct {
	Weights map[string]float64 `mapstructure:"weights" json:"weights"`
	Default float64            `mapstructure:"default" json:"default"`
}

// EncodingTables holds the ordinal scales used for categorical features.
// These are configuration, not statistics derived from the catalog.
type EncodingTables struct {
	Orientation CategoryTable `mapstructure:"orientation" json:"orientation"`
	Decoration  CategoryTable `mapstructure:"decoration" json:"decoration"`
	District    CategoryTable `mapstructure:"district" json:"district"`
}

var folder = cases.Fold()

// normalizeKey makes lookups insensitive to case and Unicode composition.
func normalizeKey(s string) string {
	return folder.String(norm.NFC.String(strings.TrimSpace(s)))
}

// Encode returns the weight for value and whether the table knew it.
func (t CategoryTable) Encode(value string) (float64, bool) {
	key := normalizeKey(value)
	if key == "" {
		return t.Default, false
	}
	if w, ok := t.Weights[key]; ok {
		return w, true
	}
	for k, w := range t.Weights {
		if normalizeKey(k) == key {
			return w, true
		}
	}
	return t.Default, false
}

// Compile returns a copy of the table with normalized keys so Encode hits
// the map directly.
func (t CategoryTable) Compile() CategoryTable {
	out := CategoryTable{Weights: make(map[string]float64, len(t.Weights)), Default: t.Default}
	for k, w := range t.Weights {
		out.Weights[normalizeKey(k)] = w
	}
	return out
}

// DefaultEncodingTables returns the stock scales, including the Chinese labels
// found in listing data.
func DefaultEncodingTables() EncodingTables {
	return EncodingTables{
		Orientation: CategoryTable{
			Weights: map[string]float64{
				"south": 1.0, "南": 1.0, "朝南": 1.0,
				"southeast": 0.8, "东南": 0.8,
				"east": 0.6, "东": 0.6,
				"northeast": 0.4, "东北": 0.4,
				"north": 0.2, "北": 0.2,
			},
			Default: 0.0,
		},
		Decoration: CategoryTable{
			Weights: map[string]float64{
				"luxury": 1.0, "豪装": 1.0, "豪华装修": 1.0,
				"hard": 0.7, "精装": 0.7, "精装修": 0.7,
				"simple": 0.4, "简装": 0.4, "简单装修": 0.4,
			},
			Default: 0.0,
		},
		District: CategoryTable{
			Weights: map[string]float64{
				"南山区": 1.0,
				"福田区": 0.9,
				"宝安区": 0.7,
				"龙岗区": 0.5,
				"罗湖区": 0.6,
			},
			Default: 0.3,
		},
	}
}

func (e EncodingTables) compile() EncodingTables {
	return EncodingTables{
		Orientation: e.Orientation.Compile(),
		Decoration:  e.Decoration.Compile(),
		District:    e.District.Compile(),
	}
}
