package resolve

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const jsonTable = `{
  "CHRONIFER M-17C": {
    "aliases": ["1.4125", "AISI 440C", "X105CrMo17", "SUS440C"],
    "doc_path": "markdowns/1.4125.md"
  },
  "CCR-1150": {
    "aliases": ["CCR1150", "CCR 1150"],
    "doc_path": "markdowns/CCR-1150.md"
  },
  "ALPHA": {"aliases": [], "doc_path": "markdowns/alpha.md"}
}`

func TestParseJSON_PreservesOrder(t *testing.T) {
	t.Parallel()

	tbl, err := ParseJSON([]byte(jsonTable))
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())

	assert.Equal(t, "CHRONIFER M-17C", tbl.Entries[0].CanonicalID)
	assert.Equal(t, "CCR-1150", tbl.Entries[1].CanonicalID)
	assert.Equal(t, "ALPHA", tbl.Entries[2].CanonicalID)
	assert.Equal(t, []string{"1.4125", "AISI 440C", "X105CrMo17", "SUS440C"}, tbl.Entries[0].Aliases)
	assert.Equal(t, "markdowns/CCR-1150.md", tbl.Entries[1].DocPath)
}

func TestParseJSON_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantErr string
	}{
		{"not_object", `["a"]`, "must be a JSON object"},
		{"duplicate", `{"A": {"aliases": []}, "A": {"aliases": []}}`, "duplicate material id"},
		{"bad_entry", `{"A": {"aliases": "x"}}`, "decode entry"},
		{"empty_id", `{"": {"aliases": []}}`, "empty id"},
		{"trailing", `{"A": {"aliases": []}} {}`, "trailing data"},
		{"garbage", `{not json`, "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseJSON([]byte(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseYAML_PreservesOrder(t *testing.T) {
	t.Parallel()

	in := `
ZETA:
  aliases: ["Z1"]
  doc_path: z.md
ALPHA:
  aliases: ["A1", "A2"]
  doc_path: a.md
`
	tbl, err := ParseYAML([]byte(in))
	require.NoError(t, err)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "ZETA", tbl.Entries[0].CanonicalID)
	assert.Equal(t, "ALPHA", tbl.Entries[1].CanonicalID)
	assert.Equal(t, []string{"A1", "A2"}, tbl.Entries[1].Aliases)
}

func TestParseYAML_Errors(t *testing.T) {
	t.Parallel()

	_, err := ParseYAML([]byte("- a\n- b\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a YAML mapping")

	_, err = ParseYAML([]byte("A:\n  aliases: []\nA:\n  aliases: []\n"))
	require.Error(t, err)

	tbl, err := ParseYAML(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())
}

func TestLoadAliasTable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "materials.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(jsonTable), 0o644))

	tbl, err := LoadAliasTable(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 3, tbl.Len())

	yamlPath := filepath.Join(dir, "materials.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("A:\n  aliases: [a]\n  doc_path: a.md\n"), 0o644))
	tbl, err = LoadAliasTable(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, "A", tbl.Entries[0].CanonicalID)

	_, err = LoadAliasTable(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read alias table")
}
