// Package patchdiff computes RFC 6902 JSON-Patch operations between two
// decoded JSON object trees (oldValue/newValue from a replication message)
// and offers an Apply helper for round-trip verification in tests.
package patchdiff

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"
)

// Op mirrors one RFC 6902 patch operation. Value is nil for "remove".
type Op struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value,omitempty"`
}

// Diff walks old and new in lockstep and returns the patch operations that
// transform old into new. Map keys are visited in sorted order so the
// resulting operation list is deterministic across runs.
//
// A property whose own value is unchanged but whose /$metadata/<key>/*
// sibling changed (e.g. a touched lastUpdateTime with no value change)
// still produces a redundant replace op on /<key>, so a metadata-only
// refresh still surfaces as one PropertyEvent downstream.
func Diff(old, new map[string]interface{}) []Op {
	var ops []Op
	diffValue("", old, new, &ops)

	ops = append(ops, metadataOnlyPropertyOps(old, new, ops)...)

	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Path < ops[j].Path })

	return ops
}

// metadataOnlyPropertyOps finds properties named by a /$metadata/<key>/*
// op whose own /<key> value is unchanged (so diffValue never emitted an op
// for it), and returns a synthetic replace op for each.
func metadataOnlyPropertyOps(old, new map[string]interface{}, ops []Op) []Op {
	var extra []Op

	seen := make(map[string]struct{})

	for _, op := range ops {
		key, ok := metadataKeyFromPath(op.Path)
		if !ok {
			continue
		}

		if _, already := seen[key]; already {
			continue
		}
		seen[key] = struct{}{}

		propPath := "/" + escapePointerToken(key)
		if hasOpForPath(ops, propPath) {
			continue
		}

		oldVal, inOld := old[key]
		newVal, inNew := new[key]

		if !inOld || !inNew || !reflect.DeepEqual(oldVal, newVal) {
			continue
		}

		extra = append(extra, Op{Op: "replace", Path: propPath, Value: newVal})
	}

	return extra
}

func hasOpForPath(ops []Op, path string) bool {
	for _, op := range ops {
		if op.Path == path {
			return true
		}
	}

	return false
}

// metadataKeyFromPath extracts the unescaped <key> from a
// /$metadata/<key>/... path, reporting false for any other shape.
func metadataKeyFromPath(path string) (string, bool) {
	const prefix = "/$metadata/"

	if !strings.HasPrefix(path, prefix) {
		return "", false
	}

	rest := path[len(prefix):]

	idx := strings.Index(rest, "/")
	if idx <= 0 {
		return "", false
	}

	return unescapePointerToken(rest[:idx]), true
}

func diffValue(path string, oldVal, newVal interface{}, ops *[]Op) {
	if reflect.DeepEqual(oldVal, newVal) {
		return
	}

	oldMap, oldIsMap := oldVal.(map[string]interface{})
	newMap, newIsMap := newVal.(map[string]interface{})

	if oldIsMap && newIsMap {
		diffMap(path, oldMap, newMap, ops)
		return
	}

	switch {
	case oldVal == nil && newVal != nil:
		*ops = append(*ops, Op{Op: "add", Path: path, Value: newVal})
	case oldVal != nil && newVal == nil:
		*ops = append(*ops, Op{Op: "remove", Path: path})
	default:
		*ops = append(*ops, Op{Op: "replace", Path: path, Value: newVal})
	}
}

func diffMap(path string, oldMap, newMap map[string]interface{}, ops *[]Op) {
	keys := make(map[string]struct{}, len(oldMap)+len(newMap))
	for k := range oldMap {
		keys[k] = struct{}{}
	}
	for k := range newMap {
		keys[k] = struct{}{}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, key := range sorted {
		childPath := path + "/" + escapePointerToken(key)
		oldChild, inOld := oldMap[key]
		newChild, inNew := newMap[key]

		switch {
		case inOld && !inNew:
			*ops = append(*ops, Op{Op: "remove", Path: childPath})
		case !inOld && inNew:
			*ops = append(*ops, Op{Op: "add", Path: childPath, Value: newChild})
		default:
			diffValue(childPath, oldChild, newChild, ops)
		}
	}
}

// escapePointerToken applies the RFC 6901 escaping rules ("~" -> "~0",
// "/" -> "~1") to a single JSON-Pointer path segment.
func escapePointerToken(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	token = strings.ReplaceAll(token, "/", "~1")

	return token
}

// unescapePointerToken reverses escapePointerToken, per RFC 6901's decode
// order: "~1" -> "/" before "~0" -> "~".
func unescapePointerToken(token string) string {
	token = strings.ReplaceAll(token, "~1", "/")
	token = strings.ReplaceAll(token, "~0", "~")

	return token
}

// PropertyKey derives a PropertyEvent key from a patch path, per the
// decomposition rule: strip the leading "/" and turn remaining "/" into "_".
func PropertyKey(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	return strings.ReplaceAll(trimmed, "/", "_")
}

// IsMetadataPath reports whether a patch path targets the reserved "$"
// namespace (model metadata, system properties) rather than a user property.
func IsMetadataPath(path string) bool {
	return strings.HasPrefix(path, "/$")
}

// PropertyAction maps a patch op to the PropertyEvent action vocabulary.
func PropertyAction(op string) (string, error) {
	switch op {
	case "add":
		return "Create", nil
	case "replace":
		return "Update", nil
	case "remove":
		return "Delete", nil
	default:
		return "", fmt.Errorf("patchdiff: unsupported op %q for property action", op)
	}
}

// Apply applies ops to old and returns the resulting document, by round
// tripping through evanphx/json-patch. Used by tests to verify that
// Diff(old, new) reconstructs new exactly.
func Apply(old map[string]interface{}, ops []Op) (map[string]interface{}, error) {
	patchJSON, err := marshalOps(ops)
	if err != nil {
		return nil, fmt.Errorf("patchdiff: marshal ops: %w", err)
	}

	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return nil, fmt.Errorf("patchdiff: decode patch: %w", err)
	}

	oldJSON, err := marshalValue(old)
	if err != nil {
		return nil, fmt.Errorf("patchdiff: marshal old: %w", err)
	}

	newJSON, err := patch.Apply(oldJSON)
	if err != nil {
		return nil, fmt.Errorf("patchdiff: apply patch: %w", err)
	}

	result, err := unmarshalValue(newJSON)
	if err != nil {
		return nil, fmt.Errorf("patchdiff: unmarshal result: %w", err)
	}

	return result, nil
}
