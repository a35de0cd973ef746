package resolve

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/cutting-params/internal/model"
)

type aliasInfo struct {
	Aliases []string `json:"aliases" yaml:"aliases"`
	DocPath string   `json:"doc_path" yaml:"doc_path"`
}

// LoadAliasTable reads an alias table from a .json, .yaml or .yml file.
func LoadAliasTable(path string) (*model.AliasTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "resolve: read alias table %s", path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON decodes {"<id>": {"aliases": [...], "doc_path": "..."}} keeping
// the object key order of the document.
func ParseJSON(data []byte) (*model.AliasTable, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, eris.Wrap(err, "resolve: decode alias table")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, eris.New("resolve: alias table must be a JSON object")
	}

	b := newBuilder()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, eris.Wrap(err, "resolve: decode alias id")
		}
		id, _ := keyTok.(string)

		var info aliasInfo
		if err := dec.Decode(&info); err != nil {
			return nil, eris.Wrapf(err, "resolve: decode entry %q", id)
		}
		if err := b.add(id, info); err != nil {
			return nil, err
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, eris.Wrap(err, "resolve: decode alias table end")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, eris.New("resolve: trailing data after alias table")
	}
	return b.table(), nil
}

// ParseYAML decodes the YAML form of the alias table, keeping mapping order.
func ParseYAML(data []byte) (*model.AliasTable, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "resolve: decode alias table")
	}
	if len(doc.Content) == 0 {
		return &model.AliasTable{}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, eris.New("resolve: alias table must be a YAML mapping")
	}

	b := newBuilder()
	for i := 0; i+1 < len(root.Content); i += 2 {
		id := root.Content[i].Value
		var info aliasInfo
		if err := root.Content[i+1].Decode(&info); err != nil {
			return nil, eris.Wrapf(err, "resolve: decode entry %q", id)
		}
		if err := b.add(id, info); err != nil {
			return nil, err
		}
	}
	return b.table(), nil
}

type builder struct {
	seen    map[string]bool
	entries []model.AliasEntry
}

func newBuilder() *builder {
	return &builder{seen: make(map[string]bool)}
}

func (b *builder) add(id string, info aliasInfo) error {
	if strings.TrimSpace(id) == "" {
		return eris.New("resolve: alias table has an empty id")
	}
	if b.seen[id] {
		return eris.Errorf("resolve: duplicate material id %q", id)
	}
	b.seen[id] = true
	b.entries = append(b.entries, model.AliasEntry{
		CanonicalID: id,
		Aliases:     info.Aliases,
		DocPath:     info.DocPath,
	})
	return nil
}

func (b *builder) table() *model.AliasTable {
	return &model.AliasTable{Entries: b.entries}
}
