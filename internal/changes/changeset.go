package changes

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
)

// ChangeSet maps the path of every changed leaf to its new value.
// A nil value means the leaf was removed. An empty ChangeSet means no change.
//
// Paths use dots for map keys and [i] for slice indexes, e.g.
// "sources[1].helm.valuesObject.image.tag".
type ChangeSet map[string]interface{}

// Empty reports whether the change set holds no changes.
func (cs ChangeSet) Empty() bool {
	return len(cs) == 0
}

// Paths returns the changed paths in sorted order.
func (cs ChangeSet) Paths() []string {
	paths := make([]string, 0, len(cs))
	for p := range cs {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// IsTerse reports whether the change set is a single revision or image tag bump.
func (cs ChangeSet) IsTerse() bool {
	if len(cs) != 1 {
		return false
	}
	for p := range cs {
		return isRevisionPath(p) || isImageTagPath(p)
	}
	return false
}

// Compute returns the leaves that differ between old and new.
func Compute(old, new map[string]interface{}) ChangeSet {
	cs := ChangeSet{}
	walk("", asValue(old), asValue(new), cs)
	return cs
}

// asValue keeps a nil map from turning into a typed nil interface.
func asValue(m map[string]interface{}) interface{} {
	if m == nil {
		return nil
	}
	return m
}

func walk(path string, a, b interface{}, cs ChangeSet) {
	am, aIsMap := a.(map[string]interface{})
	bm, bIsMap := b.(map[string]interface{})
	if aIsMap && bIsMap {
		keys := make(map[string]struct{}, len(am)+len(bm))
		for k := range am {
			keys[k] = struct{}{}
		}
		for k := range bm {
			keys[k] = struct{}{}
		}
		for k := range keys {
			// Missing keys read as nil, so absent == explicit null.
			walk(joinKey(path, k), am[k], bm[k], cs)
		}
		return
	}

	as, aIsSlice := a.([]interface{})
	bs, bIsSlice := b.([]interface{})
	if aIsSlice && bIsSlice {
		n := max(len(as), len(bs))
		for i := 0; i < n; i++ {
			var av, bv interface{}
			if i < len(as) {
				av = as[i]
			}
			if i < len(bs) {
				bv = bs[i]
			}
			walk(fmt.Sprintf("%s[%d]", path, i), av, bv, cs)
		}
		return
	}

	if !leafEqual(a, b) {
		cs[path] = b
	}
}

func joinKey(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// leafEqual compares two leaves, treating numbers of different Go types as equal
// when their values match.
func leafEqual(a, b interface{}) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

var indexPattern = regexp.MustCompile(`\[\d+\]`)

// segments splits a path into keys with slice indexes removed.
func segments(path string) []string {
	return strings.Split(indexPattern.ReplaceAllString(path, ""), ".")
}

func isRevisionPath(path string) bool {
	segs := segments(path)
	if len(segs) != 2 {
		return false
	}
	return (segs[0] == "source" || segs[0] == "sources") && segs[1] == "targetRevision"
}

func isImageTagPath(path string) bool {
	segs := segments(path)
	if len(segs) < 4 || segs[len(segs)-1] != "tag" {
		return false
	}
	helmAt := -1
	for i, s := range segs {
		if s == "helm" {
			helmAt = i
			break
		}
	}
	if helmAt < 0 || helmAt+1 >= len(segs) {
		return false
	}
	if v := segs[helmAt+1]; v != "values" && v != "valuesObject" {
		return false
	}
	for _, s := range segs[helmAt+2 : len(segs)-1] {
		if strings.Contains(strings.ToLower(s), "image") {
			return true
		}
	}
	return false
}
