// Package dirty gates commits on whether an authoring session's editable
// state has diverged from its load-time snapshot.
package dirty

import (
	"sort"

	"github.com/fincraft/ledgerform/internal/types"
)

// Snapshot is the load-time capture of a record's editable state: subject
// name, subject identifier (by primary key, not full object), the full
// field-key mapping, and, for forms that manage membership, the membership
// set. Captured once after initial population completes.
type Snapshot struct {
	SubjectName string
	SubjectID   string
	Fields      types.PropertyMap
	Members     []string
}

// Capture builds a snapshot. The property map is cloned and the membership
// slice copied so later edits cannot alias into the baseline.
func Capture(subjectName, subjectID string, fields types.PropertyMap, members []string) Snapshot {
	return Snapshot{
		SubjectName: subjectName,
		SubjectID:   subjectID,
		Fields:      fields.Clone(),
		Members:     append([]string(nil), members...),
	}
}

// IsDirty reports whether current has diverged from the baseline. Comparison
// is deep and order-insensitive: field maps compare by key with decimal-aware
// numeric equality, membership compares as a set. An edit reverted to the
// exact original value reads as clean again.
func IsDirty(current, baseline Snapshot) bool {
	if current.SubjectName != baseline.SubjectName {
		return true
	}
	if current.SubjectID != baseline.SubjectID {
		return true
	}
	if !current.Fields.Equal(baseline.Fields) {
		return true
	}
	return !sameMembers(current.Members, baseline.Members)
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
