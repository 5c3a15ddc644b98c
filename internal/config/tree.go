package config

import (
	"fmt"
	"strings"
)

// deepMerge merges src into dst right-biased: keys where both sides hold
// objects merge recursively, every other value type (lists included)
// replaces the target wholesale. dst is modified and returned.
func deepMerge(dst, src map[string]any) map[string]any {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				dst[k] = deepMerge(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

// treeGet walks a dot-separated path through nested objects.
func treeGet(tree map[string]any, path string) (any, bool) {
	var current any = tree
	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// setPath sets the leaf at a dot-separated path, creating intermediate
// objects for missing segments. An existing non-object in the way is an
// error; the tree is unchanged from that point on.
func setPath(tree map[string]any, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty config path")
	}
	parts := strings.Split(path, ".")
	node := tree
	for i, part := range parts[:len(parts)-1] {
		if part == "" {
			return fmt.Errorf("invalid config path %q", path)
		}
		next, ok := node[part]
		if !ok || next == nil {
			child := map[string]any{}
			node[part] = child
			node = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("config path %q blocked by non-object at %q",
				path, strings.Join(parts[:i+1], "."))
		}
		node = child
	}
	leaf := parts[len(parts)-1]
	if leaf == "" {
		return fmt.Errorf("invalid config path %q", path)
	}
	node[leaf] = value
	return nil
}

// forceSet is setPath for environment overrides: anything in the way is
// replaced, because the environment always wins.
func forceSet(tree map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	node := tree
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = map[string]any{}
			node[part] = child
		}
		node = child
	}
	node[parts[len(parts)-1]] = value
}

// cloneTree deep-copies object values so a snapshot can be scrubbed
// without touching live state. Leaf values, lists included, are shared.
func cloneTree(tree map[string]any) map[string]any {
	out := make(map[string]any, len(tree))
	for k, v := range tree {
		if child, ok := v.(map[string]any); ok {
			out[k] = cloneTree(child)
			continue
		}
		out[k] = v
	}
	return out
}

// toFloat coerces the numeric types YAML and JSON decoders produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// toInt coerces integral values, rejecting fractional floats.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// toStrings accepts both []string from defaults and []any from decoders.
func toStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func floatAt(tree map[string]any, path string) (float64, bool) {
	v, ok := treeGet(tree, path)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func intAt(tree map[string]any, path string) (int, bool) {
	v, ok := treeGet(tree, path)
	if !ok {
		return 0, false
	}
	return toInt(v)
}

func stringAt(tree map[string]any, path string) (string, bool) {
	v, ok := treeGet(tree, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
