package journal

import (
	"encoding/json"

	"github.com/sunli829/bigjson/internal/patch"
	"github.com/sunli829/bigjson/internal/pointer"
)

// Record is one logical mutation batch as it is written to a block file:
// the prefix the batch was addressed under, plus the ops themselves.
// Serialized as a single self-delimited JSON object; a block is a stream of
// concatenated records with no framing beyond the object boundary.
type Record struct {
	Prefix  pointer.Path
	Patches []patch.Operation
}

type wireRecord struct {
	Prefix  *string           `json:"prefix,omitempty"`
	Patches []patch.Operation `json:"patch_records"`
}

// MarshalJSON renders r the way block_file.rs's BlockRecordRef does: prefix
// omitted entirely when absent (root), present as its wire pointer string
// otherwise.
func (r Record) MarshalJSON() ([]byte, error) {
	w := wireRecord{Patches: r.Patches}
	if len(r.Prefix) > 0 {
		s := r.Prefix.String()
		w.Prefix = &s
	}
	if w.Patches == nil {
		w.Patches = []patch.Operation{}
	}
	return json.Marshal(w)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Prefix != nil {
		p, err := pointer.Parse(*w.Prefix)
		if err != nil {
			return err
		}
		r.Prefix = p
	} else {
		r.Prefix = nil
	}
	r.Patches = w.Patches
	return nil
}
