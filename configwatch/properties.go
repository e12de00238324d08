package configwatch

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"
)

// Properties maps property names to values.
type Properties map[string]any

// nativeProperties turns the children of key into properties named after
// their last path segment. Keys of other profiles sharing the prefix are
// skipped.
func nativeProperties(key string, pairs []Pair) Properties {
	props := make(Properties, len(pairs))
	prefix := key + "/"
	for _, p := range pairs {
		if !strings.HasPrefix(p.Key, prefix) {
			continue
		}
		name := p.Key[strings.LastIndex(p.Key, "/")+1:]
		if name == "" {
			continue
		}
		props[name] = string(p.Value)
	}
	return props
}

// yamlProperties decodes the document stored at key and flattens it.
func yamlProperties(key string, pairs []Pair) (Properties, error) {
	props := make(Properties)
	for _, p := range pairs {
		if p.Key != key || len(p.Value) == 0 {
			continue
		}
		var doc map[string]any
		if err := yaml.Unmarshal(p.Value, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		flatten("", doc, props)
	}
	return props, nil
}

func flatten(prefix string, value any, out Properties) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}
	switch v := value.(type) {
	case map[string]any:
		for k, child := range v {
			flatten(join(k), child, out)
		}
	case map[any]any:
		for k, child := range v {
			flatten(join(fmt.Sprint(k)), child, out)
		}
	default:
		if prefix != "" {
			out[prefix] = v
		}
	}
}

// difference returns the previous value of every property that differs
// between prev and next; added properties map to nil.
func difference(prev, next Properties) map[string]any {
	changes := make(map[string]any)
	for k, pv := range prev {
		nv, ok := next[k]
		if !ok || !reflect.DeepEqual(pv, nv) {
			changes[k] = pv
		}
	}
	for k := range next {
		if _, ok := prev[k]; !ok {
			changes[k] = nil
		}
	}
	return changes
}

// incompatible returns the properties whose value switched type. Switching
// between numeric types is allowed.
func incompatible(prev, next Properties) []string {
	var names []string
	for k, pv := range prev {
		nv, ok := next[k]
		if !ok || pv == nil || nv == nil {
			continue
		}
		pt, nt := reflect.TypeOf(pv), reflect.TypeOf(nv)
		if pt == nt {
			continue
		}
		if isNumber(pt) && isNumber(nt) {
			continue
		}
		names = append(names, fmt.Sprintf("%s: [%s] <-> [%s]", k, pt, nt))
	}
	sort.Strings(names)
	return names
}

func isNumber(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func (p Properties) clone() Properties {
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
