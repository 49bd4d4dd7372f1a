package postgres

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"

	"github.com/spf13/cast"

	"github.com/temcen/homerec/pkg/models"
)

// document is one JSON attribute column. Values are coerced leniently: "600"
// and 600 both read as a price. A present value that cannot be coerced is
// recorded as malformed and read as absent.
type document struct {
	group     string
	values    map[string]any
	used      map[string]struct{}
	malformed *[]string
}

func parseDocument(group string, raw []byte, malformed *[]string) *document {
	d := &document{group: group, used: make(map[string]struct{}), malformed: malformed}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return d
	}
	if err := json.Unmarshal(raw, &d.values); err != nil {
		*malformed = append(*malformed, group)
	}
	return d
}

func (d *document) lookup(key string) (any, bool) {
	d.used[key] = struct{}{}
	v, ok := d.values[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func (d *document) bad(key string) {
	*d.malformed = append(*d.malformed, d.group+"."+key)
}

func (d *document) float(key string) *float64 {
	v, ok := d.lookup(key)
	if !ok {
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		d.bad(key)
		return nil
	}
	return &f
}

func (d *document) integer(key string) *int {
	v, ok := d.lookup(key)
	if !ok {
		return nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		// "3.0" and similar
		f, ferr := cast.ToFloat64E(v)
		if ferr != nil || f != math.Trunc(f) {
			d.bad(key)
			return nil
		}
		n = int(f)
	}
	return &n
}

func (d *document) text(key string) string {
	v, ok := d.lookup(key)
	if !ok {
		return ""
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		d.bad(key)
		return ""
	}
	return s
}

func (d *document) labels(key string) []string {
	v, ok := d.lookup(key)
	if !ok {
		return nil
	}
	s, err := cast.ToStringSliceE(v)
	if err != nil {
		d.bad(key)
		return nil
	}
	return s
}

// rangeOf reads {"min": .., "max": ..}. A range with neither bound is nil.
func (d *document) rangeOf(key string) *models.Range {
	v, ok := d.lookup(key)
	if !ok {
		return nil
	}
	m, err := cast.ToStringMapE(v)
	if err != nil {
		d.bad(key)
		return nil
	}
	inner := &document{group: d.group + "." + key, values: m, used: make(map[string]struct{}), malformed: d.malformed}
	lo, hi := inner.float("min"), inner.float("max")
	if lo == nil && hi == nil {
		return nil
	}
	r := &models.Range{}
	if lo != nil {
		r.Min = *lo
	}
	if hi != nil {
		r.Max = *hi
	}
	return r
}

// unused copies keys nobody read into extra, prefixed with the group.
func (d *document) unused(extra map[string]any) {
	keys := make([]string, 0, len(d.values))
	for k := range d.values {
		if _, ok := d.used[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		extra[d.group+"."+k] = d.values[k]
	}
}

func decodeProperty(p *models.PropertyRecord, priceInfo, layoutInfo, basicInfo []byte) {
	extra := make(map[string]any)

	price := parseDocument("price_info", priceInfo, &p.Malformed)
	p.Pricing = models.PricingInfo{
		TotalPrice: price.float("total_price"),
		UnitPrice:  price.float("unit_price"),
	}
	price.unused(extra)

	layout := parseDocument("layout_info", layoutInfo, &p.Malformed)
	p.Layout = models.LayoutInfo{
		Area:            layout.float("area"),
		BedroomCount:    layout.integer("bedroom_count"),
		LivingRoomCount: layout.integer("living_room_count"),
		Floor:           layout.integer("floor"),
		TotalFloors:     layout.integer("total_floors"),
		Orientation:     layout.text("orientation"),
	}
	layout.unused(extra)

	basic := parseDocument("basic_info", basicInfo, &p.Malformed)
	p.Build = models.BuildInfo{
		Decoration: basic.text("decoration"),
		BuildYear:  basic.integer("build_year"),
	}
	basic.unused(extra)

	if len(extra) > 0 {
		p.Extra = extra
	}
}

func decodeCommunity(c *models.CommunityRecord, locationInfo, facilityInfo []byte) {
	extra := make(map[string]any)

	location := parseDocument("location_info", locationInfo, &c.Malformed)
	c.Location = models.LocationInfo{
		District:  location.text("district"),
		Longitude: location.float("longitude"),
		Latitude:  location.float("latitude"),
	}
	location.unused(extra)

	facility := parseDocument("facility_info", facilityInfo, &c.Malformed)
	c.Facility = models.FacilityInfo{
		ManagementFee: facility.float("management_fee"),
		GreenRatio:    facility.float("green_ratio"),
		ParkingSpaces: facility.integer("parking_spaces"),
	}
	facility.unused(extra)

	if len(extra) > 0 {
		c.Extra = extra
	}
}

// decodeBehavior reads duration and count from a browsing row payload.
// Count defaults to 1: every row is at least one view.
func decodeBehavior(raw []byte) (duration, count float64, malformed []string) {
	doc := parseDocument("behavior_data", raw, &malformed)
	if d := doc.float("duration"); d != nil && *d > 0 {
		duration = *d
	}
	count = 1
	if c := doc.float("count"); c != nil && *c > 0 {
		count = *c
	}
	return duration, count, malformed
}

func decodePreference(p *models.PreferenceRecord, raw []byte) []string {
	var malformed []string
	doc := parseDocument("preference_data", raw, &malformed)

	p.PriceRange = doc.rangeOf("price_range")
	p.AreaRange = doc.rangeOf("area_range")
	p.BedroomRange = doc.rangeOf("bedroom_range")
	p.Locations = doc.labels("locations")
	p.Orientations = doc.labels("orientations")
	p.HouseTypes = doc.labels("house_types")
	p.Keywords = doc.labels("keywords")

	extra := make(map[string]any)
	doc.unused(extra)
	if len(extra) > 0 {
		p.Extra = extra
	}
	return malformed
}
