package content

import (
	"reflect"
	"strings"
	"time"
	"unicode"
)

// PropertyKey addresses one property value. An empty Culture is the invariant
// value.
type PropertyKey struct {
	Alias   string
	Culture string
}

// ContentData is one variant (published or draft) of a node.
// It must not be modified once a Node references it.
type ContentData struct {
	Name         string
	CultureNames map[string]string
	URLSegment   string
	VersionID    int
	VersionDate  time.Time
	TemplateID   int
	WriterID     int
	Properties   map[PropertyKey]any
}

// Property resolves a value for the given culture. A culture without an
// explicit value falls back to the invariant value; there is no further chain.
func (d *ContentData) Property(alias, culture string) (any, bool) {
	if d == nil || d.Properties == nil {
		return nil, false
	}
	if culture != "" {
		if v, ok := d.Properties[PropertyKey{Alias: alias, Culture: culture}]; ok {
			return v, true
		}
	}
	v, ok := d.Properties[PropertyKey{Alias: alias}]
	return v, ok
}

// NameFor returns the culture specific name, falling back to Name.
func (d *ContentData) NameFor(culture string) string {
	if d == nil {
		return ""
	}
	if n, ok := d.CultureNames[culture]; ok && n != "" {
		return n
	}
	return d.Name
}

// Segment is the URL segment of this variant, derived from the name when none
// was stored.
func (d *ContentData) Segment() string {
	if d == nil {
		return ""
	}
	if d.URLSegment != "" {
		return d.URLSegment
	}
	return DefaultURLSegment(d.Name)
}

func (d *ContentData) Equal(o *ContentData) bool {
	if d == o {
		return true
	}
	if d == nil || o == nil {
		return false
	}
	if d.Name != o.Name || d.URLSegment != o.URLSegment || d.VersionID != o.VersionID ||
		d.TemplateID != o.TemplateID || d.WriterID != o.WriterID || !d.VersionDate.Equal(o.VersionDate) {
		return false
	}
	if len(d.CultureNames) != len(o.CultureNames) || len(d.Properties) != len(o.Properties) {
		return false
	}
	for k, v := range d.CultureNames {
		if o.CultureNames[k] != v {
			return false
		}
	}
	for k, v := range d.Properties {
		ov, ok := o.Properties[k]
		if !ok || !reflect.DeepEqual(v, ov) {
			return false
		}
	}
	return true
}

// DefaultURLSegment lowercases name and collapses every run of characters that
// are not letters or digits into a single dash.
func DefaultURLSegment(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
