package features

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/temcen/homerec/pkg/models"
)

// Column names of the property feature schema.
const (
	ColTotalPrice      = "total_price"
	ColUnitPrice       = "unit_price"
	ColArea            = "area"
	ColBedroomCount    = "bedroom_count"
	ColLivingRoomCount = "living_room_count"
	ColFloor           = "floor"
	ColTotalFloors     = "total_floors"
	ColBuildYear       = "build_year"
	ColManagementFee   = "management_fee"
	ColGreenRatio      = "green_ratio"
	ColParkingSpaces   = "parking_spaces"
	ColFloorRatio      = "floor_ratio"
	ColPricePerArea    = "price_per_area"
	ColRoomCount       = "room_count"
	ColOrientation     = "orientation_score"
	ColDecoration      = "decoration_score"
	ColDistrict        = "district_score"
)

// Schema fixes the length and ordering of feature vectors. Two vectors are
// only comparable when they share a schema version.
type Schema struct {
	Version string
	Columns []string
}

// SchemaV1 is the property schema used by the content similarity pass.
var SchemaV1 = Schema{
	Version: "v1",
	Columns: []string{
		ColTotalPrice, ColUnitPrice, ColArea, ColBedroomCount, ColLivingRoomCount,
		ColFloor, ColTotalFloors, ColBuildYear, ColManagementFee, ColGreenRatio,
		ColParkingSpaces, ColFloorRatio, ColPricePerArea, ColRoomCount,
		ColOrientation, ColDecoration, ColDistrict,
	},
}

// Index returns the position of column name, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Len is the vector dimensionality.
func (s Schema) Len() int {
	return len(s.Columns)
}

// FeatureVector is a property's numeric representation in schema order.
type FeatureVector struct {
	EntityID int64
	Schema   string
	Values   []float64
}

// Get returns the value of the named column.
func (v FeatureVector) Get(s Schema, name string) float64 {
	i := s.Index(name)
	if i < 0 || i >= len(v.Values) {
		return 0
	}
	return v.Values[i]
}

// Extractor turns property records into SchemaV1 vectors.
type Extractor struct {
	tables EncodingTables
	schema Schema
	logger *logrus.Logger
}

func NewExtractor(tables EncodingTables, logger *logrus.Logger) *Extractor {
	return &Extractor{
		tables: tables.compile(),
		schema: SchemaV1,
		logger: logger,
	}
}

// Schema returns the schema produced by Extract.
func (e *Extractor) Schema() Schema {
	return e.schema
}

// Tables returns the compiled encoding tables.
func (e *Extractor) Tables() EncodingTables {
	return e.tables
}

// Extract builds the raw (unnormalized) vector for one property. Absent or
// unparseable attributes default to zero or the table default and are listed
// in the outcome; only a record without a usable id is rejected.
func (e *Extractor) Extract(p *models.PropertyRecord) (FeatureVector, models.RecordOutcome, error) {
	if p == nil || p.ID <= 0 {
		var id int64
		if p != nil {
			id = p.ID
		}
		return FeatureVector{}, models.RecordOutcome{ID: id, Status: models.RecordSkipped},
			fmt.Errorf("%w: property id %d", models.ErrInvalidRecord, id)
	}

	b := &vectorBuilder{values: make([]float64, e.schema.Len()), schema: e.schema}

	totalPrice := b.float(ColTotalPrice, p.Pricing.TotalPrice)
	b.float(ColUnitPrice, p.Pricing.UnitPrice)
	area := b.float(ColArea, p.Layout.Area)
	bedrooms := b.int(ColBedroomCount, p.Layout.BedroomCount)
	livingRooms := b.int(ColLivingRoomCount, p.Layout.LivingRoomCount)
	floor := b.int(ColFloor, p.Layout.Floor)
	totalFloors := b.int(ColTotalFloors, p.Layout.TotalFloors)
	b.int(ColBuildYear, p.Build.BuildYear)

	var community models.CommunityRecord
	if p.Community != nil {
		community = *p.Community
	}
	b.float(ColManagementFee, community.Facility.ManagementFee)
	b.float(ColGreenRatio, community.Facility.GreenRatio)
	b.int(ColParkingSpaces, community.Facility.ParkingSpaces)

	b.set(ColFloorRatio, floor/math.Max(1, totalFloors))
	b.set(ColPricePerArea, totalPrice/math.Max(1, area))
	b.set(ColRoomCount, bedrooms+livingRooms)

	b.category(ColOrientation, e.tables.Orientation, p.Layout.Orientation)
	b.category(ColDecoration, e.tables.Decoration, p.Build.Decoration)
	b.category(ColDistrict, e.tables.District, community.Location.District)

	outcome := models.RecordOutcome{ID: p.ID, Status: models.RecordOK, Defaulted: b.defaulted}
	outcome.Defaulted = append(outcome.Defaulted, p.Malformed...)
	outcome.Defaulted = append(outcome.Defaulted, community.Malformed...)
	if len(outcome.Defaulted) > 0 {
		outcome.Status = models.RecordDegraded
	}

	return FeatureVector{EntityID: p.ID, Schema: e.schema.Version, Values: b.values}, outcome, nil
}

// ExtractBatch extracts every record, skipping invalid ones. The returned
// vectors are not yet normalized.
func (e *Extractor) ExtractBatch(records []models.PropertyRecord) ([]FeatureVector, *models.BatchReport) {
	report := models.NewBatchReport("extract")
	vectors := make([]FeatureVector, 0, len(records))

	for i := range records {
		vec, outcome, err := e.Extract(&records[i])
		report.Record(outcome)
		if err != nil {
			e.logger.WithError(err).WithField("property_id", records[i].ID).Warn("Skipping property record")
			continue
		}
		if outcome.Status == models.RecordDegraded {
			e.logger.WithFields(logrus.Fields{
				"property_id": outcome.ID,
				"defaulted":   outcome.Defaulted,
			}).Debug("Property record degraded to defaults")
		}
		vectors = append(vectors, vec)
	}

	return vectors, report
}

type vectorBuilder struct {
	schema    Schema
	values    []float64
	defaulted []string
}

func (b *vectorBuilder) set(col string, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
		b.defaulted = append(b.defaulted, col)
	}
	b.values[b.schema.Index(col)] = v
}

func (b *vectorBuilder) float(col string, p *float64) float64 {
	v, ok := models.Float64(p)
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		b.defaulted = append(b.defaulted, col)
		v = 0
	}
	b.values[b.schema.Index(col)] = v
	return v
}

func (b *vectorBuilder) int(col string, p *int) float64 {
	v, ok := models.Int(p)
	if !ok {
		b.defaulted = append(b.defaulted, col)
	}
	b.values[b.schema.Index(col)] = float64(v)
	return float64(v)
}

func (b *vectorBuilder) category(col string, table CategoryTable, value string) {
	// Unrecognized labels take the table default without degrading the
	// record; only a missing label does.
	w, _ := table.Encode(value)
	if normalizeKey(value) == "" {
		b.defaulted = append(b.defaulted, col)
	}
	b.values[b.schema.Index(col)] = w
}
