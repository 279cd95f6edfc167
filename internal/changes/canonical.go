package changes

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	yamlv3 "gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/runtime"
)

// sourceKeyOrder lists the keys that lead every source block.
var sourceKeyOrder = []string{"repoURL", "targetRevision", "chart", "path", "helm"}

// helmKeyOrder lists the keys that lead every helm block.
var helmKeyOrder = []string{"values", "valuesObject"}

// Normalize returns a deep copy of spec with string helm values parsed into maps.
// Values that do not parse as a YAML mapping are left as strings.
func Normalize(spec map[string]interface{}) map[string]interface{} {
	if spec == nil {
		return nil
	}
	out := runtime.DeepCopyJSON(spec)
	if src, ok := out["source"].(map[string]interface{}); ok {
		normalizeSource(src)
	}
	if srcs, ok := out["sources"].([]interface{}); ok {
		for _, s := range srcs {
			if src, ok := s.(map[string]interface{}); ok {
				normalizeSource(src)
			}
		}
	}
	return out
}

func normalizeSource(src map[string]interface{}) {
	helm, ok := src["helm"].(map[string]interface{})
	if !ok {
		return
	}
	raw, ok := helm["values"].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return
	}
	// yaml.v3 keeps integers as int, so large values render without exponents.
	var parsed map[string]interface{}
	if err := yamlv3.Unmarshal([]byte(raw), &parsed); err != nil || parsed == nil {
		return
	}
	helm["values"] = stringKeys(parsed)
}

// stringKeys rewrites nested maps with non-string keys (e.g. "80: http")
// into map[string]interface{}.
func stringKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, item := range t {
			t[k] = stringKeys(item)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = stringKeys(item)
		}
		return out
	case []interface{}:
		for i, item := range t {
			t[i] = stringKeys(item)
		}
		return t
	default:
		return v
	}
}

// Canonicalize renders spec as YAML with a deterministic key order.
func Canonicalize(spec map[string]interface{}) (string, error) {
	if len(spec) == 0 {
		return "", nil
	}
	var buf bytes.Buffer
	enc := yamlv3.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(toNode(spec, "")); err != nil {
		return "", fmt.Errorf("encode canonical spec: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("close canonical encoder: %w", err)
	}
	return buf.String(), nil
}

// toNode converts a JSON-like value into a yaml node. key is the map key the
// value was found under and selects the ordering rule for nested maps.
func toNode(v interface{}, key string) *yamlv3.Node {
	switch t := v.(type) {
	case map[string]interface{}:
		n := &yamlv3.Node{Kind: yamlv3.MappingNode, Tag: "!!map"}
		for _, k := range orderedKeys(t, key) {
			n.Content = append(n.Content,
				&yamlv3.Node{Kind: yamlv3.ScalarNode, Tag: "!!str", Value: k},
				toNode(t[k], k),
			)
		}
		return n
	case []interface{}:
		n := &yamlv3.Node{Kind: yamlv3.SequenceNode, Tag: "!!seq"}
		itemKey := key
		if key == "sources" {
			itemKey = "source"
		}
		for _, item := range t {
			n.Content = append(n.Content, toNode(item, itemKey))
		}
		return n
	default:
		n := &yamlv3.Node{}
		if err := n.Encode(t); err != nil {
			return &yamlv3.Node{Kind: yamlv3.ScalarNode, Tag: "!!str", Value: fmt.Sprint(t)}
		}
		return n
	}
}

func orderedKeys(m map[string]interface{}, key string) []string {
	var lead []string
	switch key {
	case "source":
		lead = sourceKeyOrder
	case "helm":
		lead = helmKeyOrder
	}

	keys := make([]string, 0, len(m))
	seen := make(map[string]bool, len(lead))
	for _, k := range lead {
		if _, ok := m[k]; ok {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	rest := make([]string, 0, len(m))
	for k := range m {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
