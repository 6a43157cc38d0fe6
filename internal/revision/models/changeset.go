package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FieldChange records one field of a change set. For INSERT revisions only
// New is populated; UPDATE revisions carry both Old and New.
type FieldChange struct {
	Field string
	Old   any
	New   any
	// hasOld distinguishes "old was nil" from "no old value" (INSERT).
	hasOld bool
}

// ChangeSet is an ordered mapping of field name to change. Order follows the
// caller-supplied snapshot order so serialized revisions are stable and
// diff-friendly.
type ChangeSet []FieldChange

// NewInsertChange records a field captured at entity creation.
func NewInsertChange(field string, value any) FieldChange {
	return FieldChange{Field: field, New: value}
}

// NewUpdateChange records a field whose value differs between snapshots.
func NewUpdateChange(field string, old, new any) FieldChange {
	return FieldChange{Field: field, Old: old, New: new, hasOld: true}
}

// Get returns the change for a field, if present.
func (cs ChangeSet) Get(field string) (FieldChange, bool) {
	for _, c := range cs {
		if c.Field == field {
			return c, true
		}
	}
	return FieldChange{}, false
}

// Fields returns the field names in order.
func (cs ChangeSet) Fields() []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Field
	}
	return out
}

// MarshalJSON serializes the change set as a JSON object preserving field
// order: {"field": value} for inserts, {"field": {"old": x, "new": y}} for
// updates.
func (cs ChangeSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range cs {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c.Field)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if c.hasOld {
			// Written by hand to keep old before new; a map would be
			// re-sorted alphabetically by encoding/json.
			oldVal, err := json.Marshal(c.Old)
			if err != nil {
				return nil, fmt.Errorf("marshal change %q: %w", c.Field, err)
			}
			newVal, err := json.Marshal(c.New)
			if err != nil {
				return nil, fmt.Errorf("marshal change %q: %w", c.Field, err)
			}
			buf.WriteString(`{"old":`)
			buf.Write(oldVal)
			buf.WriteString(`,"new":`)
			buf.Write(newVal)
			buf.WriteByte('}')
		} else {
			val, err := json.Marshal(c.New)
			if err != nil {
				return nil, fmt.Errorf("marshal change %q: %w", c.Field, err)
			}
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores a change set, preserving the serialized field order
// by walking the token stream instead of decoding into a map.
func (cs *ChangeSet) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("change set: expected object, got %v", tok)
	}

	var out ChangeSet
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		field, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("change set: expected field name, got %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("change set field %q: %w", field, err)
		}
		out = append(out, decodeFieldChange(field, raw))
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*cs = out
	return nil
}

// decodeFieldChange reads one field value. An object with exactly the keys
// "old" and "new" is an update pair; anything else is an insert value.
func decodeFieldChange(field string, raw json.RawMessage) FieldChange {
	var pair map[string]json.RawMessage
	if err := json.Unmarshal(raw, &pair); err == nil && len(pair) == 2 {
		oldRaw, hasOldKey := pair["old"]
		newRaw, hasNewKey := pair["new"]
		if hasOldKey && hasNewKey {
			return FieldChange{
				Field:  field,
				Old:    decodeValue(oldRaw),
				New:    decodeValue(newRaw),
				hasOld: true,
			}
		}
	}
	return FieldChange{Field: field, New: decodeValue(raw)}
}

func decodeValue(raw json.RawMessage) any {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	return v
}
