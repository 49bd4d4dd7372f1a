package models

import (
	"sort"
	"time"
)

// InteractionRecord is one browsing-history row. Duration and Count come from
// the row's behavior payload; Count defaults to 1 when absent.
type InteractionRecord struct {
	UserID     int64     `json:"user_id"`
	PropertyID int64     `json:"property_id"`
	Duration   float64   `json:"duration"`
	Count      float64   `json:"count"`
	ViewedAt   time.Time `json:"viewed_at"`
}

// UserHistory is everything a user has already seen.
type UserHistory struct {
	UserID    int64               `json:"user_id"`
	Views     []InteractionRecord `json:"views"`
	Favorites []int64             `json:"favorites"`
}

// Seen returns the union of viewed and favorited property ids.
func (h *UserHistory) Seen() map[int64]struct{} {
	if h == nil {
		return map[int64]struct{}{}
	}
	seen := make(map[int64]struct{}, len(h.Views)+len(h.Favorites))
	for _, v := range h.Views {
		seen[v.PropertyID] = struct{}{}
	}
	for _, id := range h.Favorites {
		seen[id] = struct{}{}
	}
	return seen
}

// ViewedSet returns the distinct viewed property ids.
func (h *UserHistory) ViewedSet() map[int64]struct{} {
	set := make(map[int64]struct{}, len(h.Views))
	for _, v := range h.Views {
		set[v.PropertyID] = struct{}{}
	}
	return set
}

// FavoriteSet returns the distinct favorited property ids.
func (h *UserHistory) FavoriteSet() map[int64]struct{} {
	set := make(map[int64]struct{}, len(h.Favorites))
	for _, id := range h.Favorites {
		set[id] = struct{}{}
	}
	return set
}

// RecentViews returns the views ordered newest first.
func (h *UserHistory) RecentViews() []InteractionRecord {
	views := make([]InteractionRecord, len(h.Views))
	copy(views, h.Views)
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].ViewedAt.After(views[j].ViewedAt)
	})
	return views
}

// Range is an inclusive numeric bound from a preference document.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies within the inclusive bounds. A zero bound
// is open, matching how preference features read the range.
func (r Range) Contains(v float64) bool {
	if r.Min != 0 && v < r.Min {
		return false
	}
	return r.Max == 0 || v <= r.Max
}

// PreferenceRecord is the latest stored preference configuration of a user.
type PreferenceRecord struct {
	UserID       int64          `json:"user_id"`
	PriceRange   *Range         `json:"price_range,omitempty"`
	AreaRange    *Range         `json:"area_range,omitempty"`
	BedroomRange *Range         `json:"bedroom_range,omitempty"`
	Locations    []string       `json:"locations,omitempty"`
	Orientations []string       `json:"orientations,omitempty"`
	HouseTypes   []string       `json:"house_types,omitempty"`
	Keywords     []string       `json:"keywords,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// PairSimilarity is the composite user-user similarity breakdown.
type PairSimilarity struct {
	UserID1    int64   `json:"user_id1"`
	UserID2    int64   `json:"user_id2"`
	Preference float64 `json:"preference"`
	Behavior   float64 `json:"behavior"`
	Favorite   float64 `json:"favorite"`
	Total      float64 `json:"total"`
}
