package model

// AliasEntry is one canonical material in the alias table.
type AliasEntry struct {
	CanonicalID string   `json:"id" yaml:"id"`
	Aliases     []string `json:"aliases" yaml:"aliases"`
	DocPath     string   `json:"doc_path" yaml:"doc_path"`
}

// AliasTable is the ordered list of materials the resolver scans. Entry order
// is significant: on equal scores the earlier entry wins.
type AliasTable struct {
	Entries []AliasEntry
}

// Len returns the number of entries.
func (t *AliasTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Entries)
}

// Entry returns the entry with the given canonical id.
func (t *AliasTable) Entry(id string) (AliasEntry, bool) {
	if t == nil {
		return AliasEntry{}, false
	}
	for _, e := range t.Entries {
		if e.CanonicalID == id {
			return e, true
		}
	}
	return AliasEntry{}, false
}
