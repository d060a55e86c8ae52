package httpapi

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-content-cache/content"
)

// nodeView is the JSON shape of a node as one reader sees it.
type nodeView struct {
	ID            int            `json:"id"`
	Key           uuid.UUID      `json:"key"`
	Kind          string         `json:"kind"`
	ParentID      int            `json:"parent_id"`
	SortOrder     int            `json:"sort_order"`
	Level         int            `json:"level"`
	Path          string         `json:"path"`
	ContentTypeID int            `json:"content_type_id"`
	Name          string         `json:"name"`
	URLSegment    string         `json:"url_segment"`
	TemplateID    int            `json:"template_id,omitempty"`
	VersionID     int            `json:"version_id,omitempty"`
	VersionDate   *time.Time     `json:"version_date,omitempty"`
	Draft         bool           `json:"draft"`
	Properties    map[string]any `json:"properties,omitempty"`
}

func toView(n *content.Node, preview bool, culture string) nodeView {
	data := n.DataFor(preview)
	if n.Variations() == content.VariesNothing {
		culture = ""
	}
	v := nodeView{
		ID:            n.ID(),
		Key:           n.Key(),
		Kind:          n.Kind().String(),
		ParentID:      n.ParentID(),
		SortOrder:     n.SortOrder(),
		Level:         n.Level(),
		Path:          n.PathString(),
		ContentTypeID: n.ContentTypeID(),
		Draft:         data != nil && data == n.Draft() && data != n.Published(),
	}
	if data == nil {
		return v
	}
	v.Name = data.NameFor(culture)
	v.URLSegment = data.Segment()
	v.TemplateID = data.TemplateID
	v.VersionID = data.VersionID
	if !data.VersionDate.IsZero() {
		d := data.VersionDate
		v.VersionDate = &d
	}
	for _, alias := range aliases(data) {
		if val, ok := data.Property(alias, culture); ok {
			if v.Properties == nil {
				v.Properties = make(map[string]any)
			}
			v.Properties[alias] = val
		}
	}
	return v
}

func aliases(d *content.ContentData) []string {
	seen := make(map[string]struct{}, len(d.Properties))
	out := make([]string, 0, len(d.Properties))
	for k := range d.Properties {
		if _, ok := seen[k.Alias]; ok {
			continue
		}
		seen[k.Alias] = struct{}{}
		out = append(out, k.Alias)
	}
	sort.Strings(out)
	return out
}
