package testsupport

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-content-cache/content"
)

//go:embed data/site.json
var siteJSON []byte

// TreeFixture is the JSON form of a full content load.
type TreeFixture struct {
	Seq   uint64        `json:"seq"`
	Nodes []NodeFixture `json:"nodes"`
}

type NodeFixture struct {
	ID            int          `json:"id"`
	Key           string       `json:"key,omitempty"`
	Kind          string       `json:"kind,omitempty"`
	Parent        int          `json:"parent"`
	Sort          int          `json:"sort"`
	ContentTypeID int          `json:"content_type_id,omitempty"`
	VariesCulture bool         `json:"varies_by_culture,omitempty"`
	Published     *DataFixture `json:"published,omitempty"`
	Draft         *DataFixture `json:"draft,omitempty"`
}

type DataFixture struct {
	Name         string            `json:"name"`
	CultureNames map[string]string `json:"culture_names,omitempty"`
	URLSegment   string            `json:"url_segment,omitempty"`
	VersionID    int               `json:"version_id,omitempty"`
	VersionDate  time.Time         `json:"version_date,omitempty"`
	TemplateID   int               `json:"template_id,omitempty"`
	WriterID     int               `json:"writer_id,omitempty"`
	Properties   []PropertyFixture `json:"properties,omitempty"`
}

type PropertyFixture struct {
	Alias   string `json:"alias"`
	Culture string `json:"culture,omitempty"`
	Value   any    `json:"value"`
}

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadFixtureJSON loads JSON test data from a fixture file and unmarshals it.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	if err := json.Unmarshal(LoadFixture(t, path), dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// LoadTree reads a TreeFixture file and converts it to a content.Tree.
func LoadTree(t testing.TB, path string) content.Tree {
	t.Helper()

	var fx TreeFixture
	LoadFixtureJSON(t, path, &fx)
	tree, err := fx.Tree()
	if err != nil {
		t.Fatalf("invalid tree fixture %s: %v", path, err)
	}
	return tree
}

// SiteTree is the shared sample site:
//
//	1 Home
//	├── 2 About Us
//	│   └── 3 Team
//	└── 6 Blog (draft only)
//	4 Other Site
//	└── 5 News
//	7 Images (media)
func SiteTree(t testing.TB) content.Tree {
	t.Helper()

	var fx TreeFixture
	if err := json.Unmarshal(siteJSON, &fx); err != nil {
		t.Fatalf("failed to unmarshal site fixture: %v", err)
	}
	tree, err := fx.Tree()
	if err != nil {
		t.Fatalf("invalid site fixture: %v", err)
	}
	return tree
}

// Tree converts the fixture. Nodes without a key get one derived from their
// id so that loads are repeatable.
func (fx TreeFixture) Tree() (content.Tree, error) {
	tree := content.Tree{Seq: fx.Seq}
	for _, n := range fx.Nodes {
		node, err := n.Node()
		if err != nil {
			return content.Tree{}, err
		}
		tree.Nodes = append(tree.Nodes, node)
	}
	return tree, nil
}

func (n NodeFixture) Node() (*content.Node, error) {
	kind, err := parseKind(n.Kind)
	if err != nil {
		return nil, fmt.Errorf("node %d: %w", n.ID, err)
	}
	key := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("content-node-%d", n.ID)))
	if n.Key != "" {
		if key, err = uuid.Parse(n.Key); err != nil {
			return nil, fmt.Errorf("node %d: %w", n.ID, err)
		}
	}
	variations := content.VariesNothing
	if n.VariesCulture {
		variations = content.VariesByCulture
	}
	return content.NewNode(content.NodeInit{
		ID:            n.ID,
		Key:           key,
		Kind:          kind,
		ParentID:      n.Parent,
		SortOrder:     n.Sort,
		ContentTypeID: n.ContentTypeID,
		Variations:    variations,
		Published:     n.Published.Data(),
		Draft:         n.Draft.Data(),
	}), nil
}

func (d *DataFixture) Data() *content.ContentData {
	if d == nil {
		return nil
	}
	data := &content.ContentData{
		Name:         d.Name,
		CultureNames: d.CultureNames,
		URLSegment:   d.URLSegment,
		VersionID:    d.VersionID,
		VersionDate:  d.VersionDate,
		TemplateID:   d.TemplateID,
		WriterID:     d.WriterID,
	}
	if len(d.Properties) > 0 {
		data.Properties = make(map[content.PropertyKey]any, len(d.Properties))
		for _, p := range d.Properties {
			data.Properties[content.PropertyKey{Alias: p.Alias, Culture: p.Culture}] = p.Value
		}
	}
	return data
}

func parseKind(s string) (content.ItemKind, error) {
	if s == "" {
		return content.KindContent, nil
	}
	return content.ParseItemKind(s)
}

// WriteGolden writes test output to a golden file.
// This should typically only be called when updating golden files.
func WriteGolden(t testing.TB, path string, data []byte) {
	t.Helper()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write golden file to %s: %v", path, err)
	}
}

// CompareWithGolden compares actual data with expected data from a golden file.
// If the golden file doesn't exist, it creates one with the actual data.
func CompareWithGolden(t testing.TB, path string, actual []byte) {
	t.Helper()

	expected, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.Logf("Golden file %s does not exist, creating it", path)
			WriteGolden(t, path, actual)
			return
		}
		t.Fatalf("failed to read golden file %s: %v", path, err)
	}

	if string(actual) != string(expected) {
		t.Errorf("output mismatch for %s:\nExpected:\n%s\nActual:\n%s", path, expected, actual)
	}
}

// CompareJSONWithGolden marshals actual with indentation and compares it.
func CompareJSONWithGolden(t testing.TB, path string, actual any) {
	t.Helper()

	data, err := json.MarshalIndent(actual, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal JSON for golden file %s: %v", path, err)
	}
	CompareWithGolden(t, path, append(data, '\n'))
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// GoldenPath constructs a path to a golden file relative to the testdata directory.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}
