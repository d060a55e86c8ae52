package contentrepo

import (
	"bytes"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-content-cache/content"
)

// Blobs are msgpack documents. Property values decode loosely: integers come
// back as int64 or uint64, floats as float64.

type dataDoc struct {
	Name         string            `msgpack:"name"`
	CultureNames map[string]string `msgpack:"cultures,omitempty"`
	URLSegment   string            `msgpack:"segment,omitempty"`
	VersionID    int               `msgpack:"version"`
	VersionDate  time.Time         `msgpack:"version_date"`
	TemplateID   int               `msgpack:"template,omitempty"`
	WriterID     int               `msgpack:"writer,omitempty"`
	Properties   []propertyDoc     `msgpack:"props,omitempty"`
}

type propertyDoc struct {
	Alias   string `msgpack:"a"`
	Culture string `msgpack:"c,omitempty"`
	Value   any    `msgpack:"v"`
}

type nodeDoc struct {
	ID            int      `msgpack:"id"`
	Key           string   `msgpack:"key"`
	Kind          int      `msgpack:"kind"`
	ParentID      int      `msgpack:"parent"`
	SortOrder     int      `msgpack:"sort"`
	ContentTypeID int      `msgpack:"type"`
	Variations    int      `msgpack:"variations"`
	Published     *dataDoc `msgpack:"published,omitempty"`
	Draft         *dataDoc `msgpack:"draft,omitempty"`
}

func toDataDoc(d *content.ContentData) *dataDoc {
	if d == nil {
		return nil
	}
	doc := &dataDoc{
		Name:         d.Name,
		CultureNames: d.CultureNames,
		URLSegment:   d.URLSegment,
		VersionID:    d.VersionID,
		VersionDate:  d.VersionDate.UTC(),
		TemplateID:   d.TemplateID,
		WriterID:     d.WriterID,
	}
	for k, v := range d.Properties {
		doc.Properties = append(doc.Properties, propertyDoc{Alias: k.Alias, Culture: k.Culture, Value: v})
	}
	return doc
}

func (doc *dataDoc) toData() *content.ContentData {
	if doc == nil {
		return nil
	}
	d := &content.ContentData{
		Name:         doc.Name,
		CultureNames: doc.CultureNames,
		URLSegment:   doc.URLSegment,
		VersionID:    doc.VersionID,
		VersionDate:  doc.VersionDate,
		TemplateID:   doc.TemplateID,
		WriterID:     doc.WriterID,
	}
	if len(doc.Properties) > 0 {
		d.Properties = make(map[content.PropertyKey]any, len(doc.Properties))
		for _, p := range doc.Properties {
			d.Properties[content.PropertyKey{Alias: p.Alias, Culture: p.Culture}] = p.Value
		}
	}
	return d
}

func unmarshal(b []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(b))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}

func encodeData(d *content.ContentData) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	return msgpack.Marshal(toDataDoc(d))
}

func decodeData(b []byte) (*content.ContentData, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var doc dataDoc
	if err := unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc.toData(), nil
}

func encodeNode(n *content.Node) ([]byte, error) {
	if n == nil {
		return nil, nil
	}
	return msgpack.Marshal(&nodeDoc{
		ID:            n.ID(),
		Key:           n.Key().String(),
		Kind:          int(n.Kind()),
		ParentID:      n.ParentID(),
		SortOrder:     n.SortOrder(),
		ContentTypeID: n.ContentTypeID(),
		Variations:    int(n.Variations()),
		Published:     toDataDoc(n.Published()),
		Draft:         toDataDoc(n.Draft()),
	})
}

func decodeNode(b []byte) (*content.Node, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var doc nodeDoc
	if err := unmarshal(b, &doc); err != nil {
		return nil, err
	}
	key, err := uuid.Parse(doc.Key)
	if err != nil {
		return nil, err
	}
	return content.NewNode(content.NodeInit{
		ID:            doc.ID,
		Key:           key,
		Kind:          content.ItemKind(doc.Kind),
		ParentID:      doc.ParentID,
		SortOrder:     doc.SortOrder,
		ContentTypeID: doc.ContentTypeID,
		Variations:    content.Variations(doc.Variations),
		Published:     doc.Published.toData(),
		Draft:         doc.Draft.toData(),
	}), nil
}

// rowToNode rebuilds the domain node from a row.
func rowToNode(r *NodeRow) (*content.Node, error) {
	published, err := decodeData(r.Published)
	if err != nil {
		return nil, err
	}
	draft, err := decodeData(r.Draft)
	if err != nil {
		return nil, err
	}
	return content.NewNode(content.NodeInit{
		ID:            r.NodeID,
		Key:           r.ID,
		Kind:          content.ItemKind(r.Kind),
		ParentID:      r.ParentID,
		SortOrder:     r.SortOrder,
		ContentTypeID: r.ContentTypeID,
		Variations:    content.Variations(r.Variations),
		Published:     published,
		Draft:         draft,
	}), nil
}

// changeToRecord rebuilds the record delivered to the cache from a log row.
func changeToRecord(r *ChangeRow) (content.ChangeRecord, error) {
	op, err := content.ParseOperation(r.Op)
	if err != nil {
		return content.ChangeRecord{}, err
	}
	rec := content.ChangeRecord{
		Seq:         uint64(r.Seq),
		ContentID:   r.NodeID,
		Op:          op,
		ParentID:    r.ParentID,
		SortOrder:   r.SortOrder,
		CommittedAt: r.CommittedAt,
	}
	switch op {
	case content.OpInsert, content.OpUpdate:
		rec.Node, err = decodeNode(r.Payload)
	case content.OpPublishStatusChange:
		rec.Published, err = decodeData(r.Payload)
	}
	if err != nil {
		return content.ChangeRecord{}, err
	}
	return rec, nil
}
