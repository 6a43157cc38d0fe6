package recorder

import (
	"reflect"
	"sort"

	"revtrail/internal/revision/models"
)

// Snapshot is an explicit field-name to value capture of an entity. Callers
// build snapshots at each mutation site; the recorder never reflects over
// entity structs, which keeps excluded-field handling a deliberate,
// reviewable concern.
type Snapshot map[string]any

// diffInsert includes every non-nil field of the new entity, excluded fields
// stripped, in deterministic field order.
func diffInsert(snap Snapshot, excluded map[string]bool) models.ChangeSet {
	var cs models.ChangeSet
	for _, field := range sortedFields(snap) {
		if excluded[field] || snap[field] == nil {
			continue
		}
		cs = append(cs, models.NewInsertChange(field, snap[field]))
	}
	return cs
}

// diffUpdate includes only fields whose value differs between the old and
// new snapshots, each as an {old, new} pair. Fields present in exactly one
// snapshot count as changed.
func diffUpdate(oldSnap, newSnap Snapshot, excluded map[string]bool) models.ChangeSet {
	fields := sortedFields(oldSnap)
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		seen[f] = true
	}
	for _, f := range sortedFields(newSnap) {
		if !seen[f] {
			fields = append(fields, f)
		}
	}

	var cs models.ChangeSet
	for _, field := range fields {
		if excluded[field] {
			continue
		}
		oldVal, newVal := oldSnap[field], newSnap[field]
		if equalValues(oldVal, newVal) {
			continue
		}
		cs = append(cs, models.NewUpdateChange(field, oldVal, newVal))
	}
	return cs
}

// deleteChanges is the fixed DELETE payload.
func deleteChanges(entityID int64, deletedAt int64, deletedBy string) models.ChangeSet {
	return models.ChangeSet{
		models.NewInsertChange("id", entityID),
		models.NewInsertChange("deleted", true),
		models.NewInsertChange("deletedAt", deletedAt),
		models.NewInsertChange("deletedBy", deletedBy),
	}
}

// restoreChanges is the synthetic change set for a restore, modeled as an
// UPDATE.
func restoreChanges() models.ChangeSet {
	return models.ChangeSet{
		models.NewInsertChange("restored", true),
		models.NewInsertChange("active", true),
		models.NewInsertChange("deletedAt", nil),
		models.NewInsertChange("deletedBy", nil),
	}
}

func sortedFields(snap Snapshot) []string {
	fields := make([]string, 0, len(snap))
	for f := range snap {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// equalValues compares snapshot values via reflect.DeepEqual. JSON-decoded
// snapshots carry map and slice values, which are not comparable with ==.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return reflect.DeepEqual(a, b)
}
