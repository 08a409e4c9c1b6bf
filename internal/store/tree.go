package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// node is one stored path with its scalar fields. Nested objects become their
// own nodes so that a write to /a/b never rewrites unrelated fields of /a.
type node struct {
	path   string
	fields map[string]json.RawMessage
}

// flatten splits value into nodes rooted at path. Nulls and empty objects are
// dropped, so writes only ever add or replace fields.
func flatten(path string, value any) ([]node, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}
	if !isObject(raw) {
		return nil, fmt.Errorf("value for %s must be an object", path)
	}
	var nodes []node
	if err := flattenInto(path, raw, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

func flattenInto(path string, raw json.RawMessage, nodes *[]node) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	keys := make([]string, 0, len(members))
	for key := range members {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fields := map[string]json.RawMessage{}
	for _, key := range keys {
		member := members[key]
		if !ValidKey(key) {
			return fmt.Errorf("invalid key %q under %s", key, path)
		}
		switch {
		case isNull(member):
		case isObject(member):
			if err := flattenInto(childPath(path, key), member, nodes); err != nil {
				return err
			}
		default:
			fields[key] = member
		}
	}
	if len(fields) > 0 {
		*nodes = append(*nodes, node{path: path, fields: fields})
	}
	return nil
}

// assemble rebuilds the object rooted at root from nodes stored at or below it.
func assemble(root string, nodes []node) (json.RawMessage, error) {
	if len(nodes) == 0 {
		return nil, ErrNotFound
	}
	byPath, kids := index(nodes)
	return build(root, byPath, kids)
}

// children assembles each direct child of root separately.
func children(root string, nodes []node) (map[string]json.RawMessage, error) {
	byPath, kids := index(nodes)
	out := map[string]json.RawMessage{}
	for segment := range kids[root] {
		value, err := build(childPath(root, segment), byPath, kids)
		if err != nil {
			return nil, err
		}
		out[segment] = value
	}
	return out, nil
}

func index(nodes []node) (map[string]map[string]json.RawMessage, map[string]map[string]struct{}) {
	byPath := make(map[string]map[string]json.RawMessage, len(nodes))
	kids := map[string]map[string]struct{}{}
	for _, n := range nodes {
		byPath[n.path] = n.fields
		for path := n.path; path != "/"; path = parentOf(path) {
			parent := parentOf(path)
			if kids[parent] == nil {
				kids[parent] = map[string]struct{}{}
			}
			kids[parent][lastSegment(path)] = struct{}{}
		}
	}
	return byPath, kids
}

func build(path string, byPath map[string]map[string]json.RawMessage, kids map[string]map[string]struct{}) (json.RawMessage, error) {
	obj := map[string]json.RawMessage{}
	for key, value := range byPath[path] {
		obj[key] = value
	}
	for segment := range kids[path] {
		value, err := build(childPath(path, segment), byPath, kids)
		if err != nil {
			return nil, err
		}
		obj[segment] = value
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", path, err)
	}
	return raw, nil
}

func childPath(parent, segment string) string {
	if parent == "/" {
		return "/" + segment
	}
	return parent + "/" + segment
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
