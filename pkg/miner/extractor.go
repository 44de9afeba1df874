package miner

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// TagRole names why a tagged probe exists. Roles describe the semantic slot
// a repeated probe fills (per-board chip health, per-board voltage, ...) so
// that structurally identical commands can be told apart downstream.
type TagRole string

const (
	// RoleNone marks an untagged extraction.
	RoleNone TagRole = ""

	RoleChips    TagRole = "chips"
	RoleVoltage  TagRole = "voltage"
	RolePSU      TagRole = "psu"
	RoleStats    TagRole = "stats"
	RoleTemps    TagRole = "temps"
	RoleDevs     TagRole = "devs"
	RoleProfile  TagRole = "profile"
	RoleProfiles TagRole = "profiles"
)

// Tag disambiguates repeated extractions that share a field and command
// shape. A tag is a structured (role, index) pair rather than a free-form
// string, so per-board probes cannot collide through typos. The zero Tag
// means "untagged".
type Tag struct {
	Role  TagRole
	Index int
}

// TagFor builds a per-board tag such as chips[0] or voltage[2].
func TagFor(role TagRole, index int) Tag {
	return Tag{Role: role, Index: index}
}

// TagNamed builds an index-less tag such as stats or psu.
func TagNamed(role TagRole) Tag {
	return Tag{Role: role}
}

// IsZero reports whether the tag is the untagged zero value.
func (t Tag) IsZero() bool {
	return t == Tag{}
}

// String renders the tag for logs and test output, e.g. "chips[1]" or "psu".
func (t Tag) String() string {
	if t.Role == RoleNone {
		return ""
	}
	switch t.Role {
	case RoleChips, RoleVoltage:
		return fmt.Sprintf("%s[%d]", t.Role, t.Index)
	default:
		return string(t.Role)
	}
}

// LookupKind selects how an Extractor addresses a response document.
type LookupKind uint8

const (
	// LookupRoot yields the whole response document.
	LookupRoot LookupKind = iota

	// LookupKey yields the value of a single top-level key. The key is
	// treated literally; dots or wildcards inside it are not path syntax.
	LookupKey

	// LookupPath yields the value at a gjson path, e.g. "Msg.mac" or
	// "SUMMARY.0.Elapsed".
	LookupPath
)

// Extractor pulls a sub-value out of a raw JSON response. Extractors are
// pure and total: malformed, empty, or mismatched documents yield
// (zero, false), never a panic or an error.
type Extractor struct {
	Lookup LookupKind
	Path   string
	Tag    Tag
}

// ExtractRoot returns an extractor for the whole response document.
func ExtractRoot() Extractor {
	return Extractor{Lookup: LookupRoot}
}

// ExtractKey returns an extractor for a single literal top-level key.
func ExtractKey(key string) Extractor {
	return Extractor{Lookup: LookupKey, Path: key}
}

// ExtractPath returns an extractor for a gjson path.
func ExtractPath(path string) Extractor {
	return Extractor{Lookup: LookupPath, Path: path}
}

// WithTag returns a copy of the extractor carrying the given tag.
func (e Extractor) WithTag(tag Tag) Extractor {
	e.Tag = tag
	return e
}

// gjson path characters that must be escaped for a literal key lookup.
const gjsonSpecials = `.|#@*?\`

// escapeKey quotes gjson path syntax inside a literal key name.
func escapeKey(key string) string {
	if !strings.ContainsAny(key, gjsonSpecials) {
		return key
	}
	var b strings.Builder
	for _, r := range key {
		if strings.ContainsRune(gjsonSpecials, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Apply runs the extractor over a raw response body.
func (e Extractor) Apply(raw []byte) (gjson.Result, bool) {
	if len(raw) == 0 {
		return gjson.Result{}, false
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, false
	}

	switch e.Lookup {
	case LookupRoot:
		return gjson.ParseBytes(raw), true
	case LookupKey:
		result := gjson.GetBytes(raw, escapeKey(e.Path))
		return result, result.Exists()
	case LookupPath:
		result := gjson.GetBytes(raw, e.Path)
		return result, result.Exists()
	default:
		return gjson.Result{}, false
	}
}

// Location pairs a Command with the Extractor that interprets its response.
// A backend's location map is a pure function Field -> []Location; an empty
// list means the backend cannot supply that field.
type Location struct {
	Command   Command
	Extractor Extractor
}

// Locate is shorthand for building a Location.
func Locate(cmd Command, ex Extractor) Location {
	return Location{Command: cmd, Extractor: ex}
}
