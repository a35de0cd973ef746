package tables

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cutting-params/internal/model"
)

// Records is a read-only lookup of table records by id.
type Records struct {
	byID map[int]model.TableRecord
}

// NewRecords indexes recs. Duplicate ids are an error.
func NewRecords(recs []model.TableRecord) (*Records, error) {
	byID := make(map[int]model.TableRecord, len(recs))
	for _, r := range recs {
		if _, dup := byID[r.TableID]; dup {
			return nil, eris.Errorf("tables: duplicate table id %d", r.TableID)
		}
		byID[r.TableID] = r
	}
	return &Records{byID: byID}, nil
}

// Lookup returns the record for id.
func (r *Records) Lookup(id int) (model.TableRecord, bool) {
	if r == nil {
		return model.TableRecord{}, false
	}
	rec, ok := r.byID[id]
	return rec, ok
}

// Len returns the number of records.
func (r *Records) Len() int {
	if r == nil {
		return 0
	}
	return len(r.byID)
}

// All returns the records ordered by id.
func (r *Records) All() []model.TableRecord {
	if r == nil {
		return nil
	}
	out := make([]model.TableRecord, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableID < out[j].TableID })
	return out
}

// ParseRecords decodes a JSON array of table records.
func ParseRecords(rd io.Reader) (*Records, error) {
	var recs []model.TableRecord
	if err := json.NewDecoder(rd).Decode(&recs); err != nil {
		return nil, eris.Wrap(err, "tables: decode records")
	}
	return NewRecords(recs)
}

// LoadRecords reads a table records file.
func LoadRecords(path string) (*Records, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "tables: open %s", path)
	}
	defer f.Close() //nolint:errcheck
	return ParseRecords(f)
}

// SaveRecords writes recs as an indented JSON array, creating parent
// directories as needed.
func SaveRecords(path string, recs []model.TableRecord) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "tables: create dir %s", dir)
		}
	}
	if recs == nil {
		recs = []model.TableRecord{}
	}
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return eris.Wrap(err, "tables: encode records")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrapf(err, "tables: write %s", path)
	}
	return nil
}
