package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/fincraft/ledgerform/internal/sequence"
	"github.com/fincraft/ledgerform/internal/session"
	"github.com/fincraft/ledgerform/internal/types"
	"github.com/fincraft/ledgerform/internal/validation"
)

// eventEnvelope is the wire shape of one step event. Type selects the event;
// the remaining members are read per type.
type eventEnvelope struct {
	Type       string          `json:"type"`
	RecordID   string          `json:"record_id,omitempty"`
	CategoryID string          `json:"category_id,omitempty"`
	Key        string          `json:"key,omitempty"`
	Value      json.RawMessage `json:"value,omitempty"`
	Properties json.RawMessage `json:"properties,omitempty"`
	Members    []string        `json:"members,omitempty"`
	Name       string          `json:"name,omitempty"`
}

// decodeEvent maps an event envelope onto a sequencer event, resolving record
// references through the store.
func (h *Handler) decodeEvent(r *http.Request) (sequence.Event, error) {
	var env eventEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	switch env.Type {
	case "select_subject":
		rec, err := h.resolveReference(r, env.RecordID)
		if err != nil {
			return nil, err
		}
		return sequence.SelectSubject{Subject: *rec}, nil

	case "select_counter_item":
		rec, err := h.resolveReference(r, env.RecordID)
		if err != nil {
			return nil, err
		}
		return sequence.SelectCounterItem{Item: *rec}, nil

	case "select_category":
		if env.CategoryID == "" {
			return nil, fmt.Errorf("select_category requires category_id")
		}
		return sequence.SelectCategory{CategoryID: env.CategoryID}, nil

	case "select_counter_party":
		rec, err := h.resolveReference(r, env.RecordID)
		if err != nil {
			return nil, err
		}
		return sequence.SelectCounterParty{Party: *rec}, nil

	case "override_counter_party":
		return sequence.OverrideCounterParty{}, nil

	case "set_property":
		if env.Key == "" {
			return nil, fmt.Errorf("set_property requires key")
		}
		var v types.FieldValue
		if len(env.Value) > 0 {
			if err := v.UnmarshalJSON(env.Value); err != nil {
				return nil, fmt.Errorf("invalid property value: %w", err)
			}
		}
		return sequence.SetProperty{Key: env.Key, Value: v}, nil

	case "remove_property":
		if env.Key == "" {
			return nil, fmt.Errorf("remove_property requires key")
		}
		return sequence.RemoveProperty{Key: env.Key}, nil

	case "replace_properties":
		if verr := validation.ValidateJSONSyntax("properties", string(env.Properties)); verr != nil {
			return nil, &session.ValidationFailedError{Errors: []validation.ValidationError{*verr}}
		}
		props, err := types.ParsePropertyMap(env.Properties)
		if err != nil {
			return nil, fmt.Errorf("invalid properties: %w", err)
		}
		return sequence.ReplaceProperties{Properties: props}, nil

	case "set_members":
		return sequence.SetMembers{Members: env.Members}, nil

	case "rename":
		return sequence.Rename{Name: env.Name}, nil

	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}

func (h *Handler) resolveReference(r *http.Request, id string) (*types.Record, error) {
	if id == "" {
		return nil, fmt.Errorf("event requires record_id")
	}
	rec, err := h.store.Get(r.Context(), id)
	if err != nil {
		return nil, fmt.Errorf("record %s not found", id)
	}
	return rec, nil
}
