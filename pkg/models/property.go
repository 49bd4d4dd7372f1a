package models

import "time"

// PropertyStatus is the listing state of a property.
type PropertyStatus string

const (
	PropertyStatusForSale PropertyStatus = "for_sale"
	PropertyStatusSold    PropertyStatus = "sold"
	PropertyStatusOffline PropertyStatus = "offline"
)

// PropertyRecord is a listing decoded from its JSON attribute groups at the
// catalog boundary. Optional fields are nil when the source omitted them or
// the value could not be parsed; Malformed names the latter.
type PropertyRecord struct {
	ID            int64            `json:"property_id"`
	CommunityID   int64            `json:"community_id"`
	Title         string           `json:"title"`
	Status        PropertyStatus   `json:"status"`
	Pricing       PricingInfo      `json:"price_info"`
	Layout        LayoutInfo       `json:"layout_info"`
	Build         BuildInfo        `json:"basic_info"`
	Community     *CommunityRecord `json:"community,omitempty"`
	FavoriteCount int              `json:"favorite_count"`
	ViewCount     int              `json:"view_count"`
	Extra         map[string]any   `json:"extra,omitempty"`
	Malformed     []string         `json:"malformed,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

type PricingInfo struct {
	TotalPrice *float64 `json:"total_price,omitempty"`
	UnitPrice  *float64 `json:"unit_price,omitempty"`
}

type LayoutInfo struct {
	Area            *float64 `json:"area,omitempty"`
	BedroomCount    *int     `json:"bedroom_count,omitempty"`
	LivingRoomCount *int     `json:"living_room_count,omitempty"`
	Floor           *int     `json:"floor,omitempty"`
	TotalFloors     *int     `json:"total_floors,omitempty"`
	Orientation     string   `json:"orientation,omitempty"`
}

type BuildInfo struct {
	Decoration string `json:"decoration,omitempty"`
	BuildYear  *int   `json:"build_year,omitempty"`
}

// CommunityRecord is the residential compound a property belongs to.
type CommunityRecord struct {
	ID        int64          `json:"community_id"`
	Name      string         `json:"name"`
	Location  LocationInfo   `json:"location_info"`
	Facility  FacilityInfo   `json:"facility_info"`
	Extra     map[string]any `json:"extra,omitempty"`
	Malformed []string       `json:"malformed,omitempty"`
}

type LocationInfo struct {
	District  string   `json:"district,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
}

type FacilityInfo struct {
	ManagementFee *float64 `json:"management_fee,omitempty"`
	GreenRatio    *float64 `json:"green_ratio,omitempty"`
	ParkingSpaces *int     `json:"parking_spaces,omitempty"`
}

// IsForSale reports whether the property takes part in similarity passes and
// recommendation candidates.
func (p *PropertyRecord) IsForSale() bool {
	return p.Status == PropertyStatusForSale
}

// District returns the community district or "" when no community is joined.
func (p *PropertyRecord) District() string {
	if p.Community == nil {
		return ""
	}
	return p.Community.Location.District
}

// Float64 dereferences an optional float, reporting whether it was present.
func Float64(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Int dereferences an optional int, reporting whether it was present.
func Int(v *int) (int, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

func Float64Ptr(v float64) *float64 { return &v }

func IntPtr(v int) *int { return &v }
