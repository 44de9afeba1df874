package collector

import (
	"github.com/tidwall/gjson"

	"github.com/minefleet/asicscan/pkg/miner"
)

// FieldValue is one field's extraction outcome. OK guards Value; tagged
// extractions live in Tagged keyed by their structured tag. A field can carry
// either or both.
type FieldValue struct {
	Value  gjson.Result
	OK     bool
	Tagged map[miner.Tag]gjson.Result
}

// FieldMap holds every field a collection pass could supply. Absent fields
// have no entry.
type FieldMap map[miner.Field]FieldValue

// Has reports whether the field resolved to any value, tagged or not.
func (m FieldMap) Has(field miner.Field) bool {
	_, ok := m[field]
	return ok
}

// Result returns the field's untagged value.
func (m FieldMap) Result(field miner.Field) (gjson.Result, bool) {
	fv, ok := m[field]
	if !ok || !fv.OK {
		return gjson.Result{}, false
	}
	return fv.Value, true
}

// Str returns the field's untagged value as a string.
func (m FieldMap) Str(field miner.Field) (string, bool) {
	res, ok := m.Result(field)
	if !ok {
		return "", false
	}
	return res.String(), true
}

// Float returns the field's untagged value as a float64.
func (m FieldMap) Float(field miner.Field) (float64, bool) {
	res, ok := m.Result(field)
	if !ok {
		return 0, false
	}
	return res.Float(), true
}

// Int returns the field's untagged value as an int64.
func (m FieldMap) Int(field miner.Field) (int64, bool) {
	res, ok := m.Result(field)
	if !ok {
		return 0, false
	}
	return res.Int(), true
}

// Bool returns the field's untagged value as a bool.
func (m FieldMap) Bool(field miner.Field) (bool, bool) {
	res, ok := m.Result(field)
	if !ok {
		return false, false
	}
	return res.Bool(), true
}

// TaggedResults returns the field's tagged extractions, or nil when none
// resolved.
func (m FieldMap) TaggedResults(field miner.Field) map[miner.Tag]gjson.Result {
	return m[field].Tagged
}

// Tagged returns one tagged extraction of the field.
func (m FieldMap) Tagged(field miner.Field, tag miner.Tag) (gjson.Result, bool) {
	res, ok := m[field].Tagged[tag]
	return res, ok
}
