// Package sanitize repairs structurally corrupted property maps before they
// are trusted for persistence or display.
//
// The corruption signature is a map whose keys are numeric strings: a
// historical serialization bug stored a property map as a character-indexed
// array, so {"0":"a","1":"b",...} is a mis-stored string, not data. Repair
// keeps the best-effort valid subset and reports what it dropped; it never
// fails and never surfaces to the user.
package sanitize

import (
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/fincraft/ledgerform/internal/diag"
	"github.com/fincraft/ledgerform/internal/types"
)

// MaxPayloadBytes is the serialized-size threshold above which non-scalar
// fields are shed to avoid an oversized-request failure at the transport
// boundary.
const MaxPayloadBytes = 10 * 1024

// Boundary names the crossing at which sanitization runs.
type Boundary string

const (
	BoundaryLoad       Boundary = "load"
	BoundaryModeSwitch Boundary = "mode_switch"
	BoundarySubmit     Boundary = "submit"
	BoundaryDismiss    Boundary = "dismiss"
)

// Sanitizer cleans property maps at every engine boundary.
type Sanitizer struct {
	reporter diag.Reporter
}

// New creates a sanitizer reporting through r. A nil reporter discards
// diagnostics.
func New(r diag.Reporter) *Sanitizer {
	if r == nil {
		r = diag.Nop{}
	}
	return &Sanitizer{reporter: r}
}

// Clean returns a usable (possibly empty) map. Corrupted maps are rebuilt from
// their scalar, non-numeric, length>1 keys; oversized healthy maps shed
// non-scalar fields. Clean never returns nil and never raises.
func (s *Sanitizer) Clean(m types.PropertyMap, boundary Boundary) types.PropertyMap {
	if m == nil {
		return types.PropertyMap{}
	}

	if corrupted(m) {
		repaired, dropped := repair(m)
		s.reporter.Report("property_map_corruption_detected",
			slog.String("boundary", string(boundary)),
			slog.Int("retained", len(repaired)),
			slog.Any("dropped_keys", dropped),
		)
		return repaired
	}

	if size := serializedSize(m); size > MaxPayloadBytes {
		trimmed, dropped := shedComplex(m)
		if len(dropped) > 0 {
			s.reporter.Report("property_map_oversize",
				slog.String("boundary", string(boundary)),
				slog.Int("size_bytes", size),
				slog.Any("dropped_keys", dropped),
			)
			return trimmed
		}
	}

	return m
}

// corrupted reports whether any key parses as an integer.
func corrupted(m types.PropertyMap) bool {
	for k := range m {
		if numericKey(k) {
			return true
		}
	}
	return false
}

func numericKey(k string) bool {
	_, err := strconv.Atoi(k)
	return err == nil
}

// repair keeps only keys that are non-numeric, longer than one character, and
// carry a scalar value. A corrupted map cannot be trusted to carry nested
// structures accurately, so object and array values are dropped too.
func repair(m types.PropertyMap) (types.PropertyMap, []string) {
	clean := make(types.PropertyMap)
	var dropped []string
	for _, k := range m.Keys() {
		v := m[k]
		if numericKey(k) || len(k) <= 1 || !v.IsScalar() {
			dropped = append(dropped, k)
			continue
		}
		clean[k] = v
	}
	return clean, dropped
}

// shedComplex drops every non-scalar field from a healthy but oversized map.
func shedComplex(m types.PropertyMap) (types.PropertyMap, []string) {
	trimmed := make(types.PropertyMap, len(m))
	var dropped []string
	for _, k := range m.Keys() {
		v := m[k]
		if !v.IsScalar() {
			dropped = append(dropped, k)
			continue
		}
		trimmed[k] = v
	}
	return trimmed, dropped
}

func serializedSize(m types.PropertyMap) int {
	data, err := json.Marshal(m)
	if err != nil {
		return 0
	}
	return len(data)
}
