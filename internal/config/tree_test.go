package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDeepMerge(t *testing.T) {
	tests := []struct {
		name string
		dst  map[string]any
		src  map[string]any
		want map[string]any
	}{
		{
			name: "overlay keeps untouched siblings",
			dst:  map[string]any{"a": map[string]any{"x": 1, "y": 2}},
			src:  map[string]any{"a": map[string]any{"y": 3}},
			want: map[string]any{"a": map[string]any{"x": 1, "y": 3}},
		},
		{
			name: "scalar replaces scalar",
			dst:  map[string]any{"a": 1},
			src:  map[string]any{"a": 2},
			want: map[string]any{"a": 2},
		},
		{
			name: "lists replace wholesale",
			dst:  map[string]any{"labels": []any{"a", "b"}},
			src:  map[string]any{"labels": []any{"c"}},
			want: map[string]any{"labels": []any{"c"}},
		},
		{
			name: "object replaces scalar",
			dst:  map[string]any{"a": 1},
			src:  map[string]any{"a": map[string]any{"b": 2}},
			want: map[string]any{"a": map[string]any{"b": 2}},
		},
		{
			name: "scalar replaces object",
			dst:  map[string]any{"a": map[string]any{"b": 2}},
			src:  map[string]any{"a": "flat"},
			want: map[string]any{"a": "flat"},
		},
		{
			name: "new keys appear",
			dst:  map[string]any{"a": 1},
			src:  map[string]any{"b": 2},
			want: map[string]any{"a": 1, "b": 2},
		},
		{
			name: "empty overlay is a no-op",
			dst:  map[string]any{"a": map[string]any{"x": 1}},
			src:  map[string]any{},
			want: map[string]any{"a": map[string]any{"x": 1}},
		},
		{
			name: "nested three levels",
			dst: map[string]any{
				"a": map[string]any{"b": map[string]any{"c": 1, "d": 2}},
			},
			src: map[string]any{
				"a": map[string]any{"b": map[string]any{"d": 3}},
			},
			want: map[string]any{
				"a": map[string]any{"b": map[string]any{"c": 1, "d": 3}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := deepMerge(tt.dst, tt.src)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("deepMerge mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTreeGet(t *testing.T) {
	tree := map[string]any{
		"a": map[string]any{
			"b": map[string]any{"c": 42},
			"s": "str",
		},
	}

	if v, ok := treeGet(tree, "a.b.c"); !ok || v != 42 {
		t.Errorf("treeGet(a.b.c) = %v, %v", v, ok)
	}
	if v, ok := treeGet(tree, "a.s"); !ok || v != "str" {
		t.Errorf("treeGet(a.s) = %v, %v", v, ok)
	}
	if _, ok := treeGet(tree, "a.missing"); ok {
		t.Error("treeGet(a.missing) should not be found")
	}
	// a.s is a string, so the walk cannot continue through it.
	if _, ok := treeGet(tree, "a.s.deeper"); ok {
		t.Error("treeGet through a scalar should not be found")
	}
	if _, ok := treeGet(tree, ""); ok {
		t.Error("treeGet with empty path should not be found")
	}
}

func TestSetPath(t *testing.T) {
	tree := map[string]any{}

	if err := setPath(tree, "a.b.c", 1); err != nil {
		t.Fatalf("setPath failed: %v", err)
	}
	if v, _ := treeGet(tree, "a.b.c"); v != 1 {
		t.Errorf("a.b.c = %v, want 1", v)
	}

	if err := setPath(tree, "a.b.c", 2); err != nil {
		t.Fatalf("setPath overwrite failed: %v", err)
	}
	if v, _ := treeGet(tree, "a.b.c"); v != 2 {
		t.Errorf("a.b.c = %v, want 2 after overwrite", v)
	}

	tree["leaf"] = "scalar"
	if err := setPath(tree, "leaf.inner", 1); err == nil {
		t.Error("setPath through a scalar should fail")
	}
	if err := setPath(tree, "", 1); err == nil {
		t.Error("setPath with empty path should fail")
	}
	if err := setPath(tree, "a..b", 1); err == nil {
		t.Error("setPath with empty segment should fail")
	}
}

func TestForceSet(t *testing.T) {
	// A broken file can turn a whole section into a scalar; environment
	// overrides still land.
	tree := map[string]any{"ai": "oops"}

	forceSet(tree, "ai.temperature", 0.5)

	if v, ok := floatAt(tree, "ai.temperature"); !ok || v != 0.5 {
		t.Errorf("ai.temperature = %v, %v, want 0.5 after forceSet", v, ok)
	}
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   float64
		wantOK bool
	}{
		{"float64", 0.5, 0.5, true},
		{"float32", float32(2), 2, true},
		{"int", 3, 3, true},
		{"int64", int64(4), 4, true},
		{"string", "5", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toFloat(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("toFloat(%v) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestToInt(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   int
		wantOK bool
	}{
		{"int", 3, 3, true},
		{"int64", int64(4), 4, true},
		{"integral float", 5.0, 5, true},
		{"fractional float", 5.5, 0, false},
		{"string", "6", 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toInt(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("toInt(%v) = %v, %v, want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestToStrings(t *testing.T) {
	if got := toStrings([]string{"a", "b"}); len(got) != 2 {
		t.Errorf("toStrings([]string) = %v", got)
	}
	// JSON and YAML decode lists as []any.
	if got := toStrings([]any{"a", 1, "b"}); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("toStrings([]any) = %v, want non-strings filtered", got)
	}
	if got := toStrings("a"); got != nil {
		t.Errorf("toStrings(string) = %v, want nil", got)
	}
}

func TestCloneTreeIsolation(t *testing.T) {
	orig := map[string]any{
		"a": map[string]any{"b": 1},
	}

	clone := cloneTree(orig)
	clone["a"].(map[string]any)["b"] = 2

	if v, _ := treeGet(orig, "a.b"); v != 1 {
		t.Errorf("mutating clone changed original: a.b = %v", v)
	}
}
