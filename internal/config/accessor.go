package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// toTree renders cfg as the generic JSON tree the dot-path accessors walk.
func toTree(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// GetByPath returns the value at a dot path such as "knowledge.embedder.type".
// Numeric segments index into lists: "agent.failoverChain.0".
func GetByPath(cfg *Config, path string) (any, error) {
	tree, err := toTree(cfg)
	if err != nil {
		return nil, err
	}
	var node any = tree
	for _, key := range strings.Split(path, ".") {
		switch v := node.(type) {
		case map[string]any:
			next, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			node = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(v) {
				return nil, fmt.Errorf("invalid list index %q in %s", key, path)
			}
			node = v[i]
		default:
			return nil, fmt.Errorf("%s: %q is not a section", path, key)
		}
	}
	return node, nil
}

// SetByPath sets the value at a dot path. Keys are checked against the
// Config type, so a misspelt key is an error rather than a silent no-op.
// Map sections such as "providers" accept new entries. String values are
// converted to the field's type; list fields take comma-separated values.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return errors.New("empty path")
	}
	tree, err := toTree(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	typ := reflect.TypeOf(*cfg)
	node := tree
	for i, key := range parts {
		ft, ok := childType(typ, key)
		if !ok {
			return fmt.Errorf("unknown config key: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			v, err := coerce(value, ft)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			node[key] = v
			break
		}
		child, _ := node[key].(map[string]any)
		if child == nil {
			child = make(map[string]any)
			node[key] = child
		}
		node, typ = child, ft
	}

	data, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	var updated Config
	if err := json.Unmarshal(data, &updated); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*cfg = updated
	return nil
}

// childType is the type reached from t through key: a struct field by its
// json name, or the element of a map.
func childType(t reflect.Type, key string) (reflect.Type, bool) {
	switch t.Kind() {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if f := t.Field(i); jsonName(f) == key {
				return f.Type, true
			}
		}
	case reflect.Map:
		return t.Elem(), key != ""
	}
	return nil, false
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" {
		return f.Name
	}
	return name
}

// coerce converts a command-line string into the JSON form of t.
func coerce(v any, t reflect.Type) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	switch t.Kind() {
	case reflect.String:
		return s, nil
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("want true or false, got %q", s)
		}
		return b, nil
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("want an integer, got %q", s)
		}
		return n, nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("want a number, got %q", s)
		}
		return f, nil
	case reflect.Slice:
		items := []any{}
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil
	}
	return nil, fmt.Errorf("a %s cannot be set from a single value", t.Kind())
}

// Sanitize returns a copy of cfg with every API key masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return cfg
	}

	for name, p := range out.Providers {
		p.APIKey = maskString(p.APIKey)
		out.Providers[name] = p
	}
	for _, key := range []*string{&out.Knowledge.Embedder.APIKey, &out.Server.APIKey} {
		*key = maskString(*key)
	}
	return &out
}

// maskString keeps the first and last four characters of long secrets.
func maskString(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 8:
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths flattens cfg into dot paths and their values.
func ListPaths(cfg *Config) map[string]any {
	tree, err := toTree(cfg)
	if err != nil {
		return nil
	}
	out := make(map[string]any)
	flatten("", tree, out)
	return out
}

// SortedPaths returns the keys of ListPaths in order.
func SortedPaths(paths map[string]any) []string {
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func flatten(prefix string, m map[string]any, out map[string]any) {
	for k, v := range m {
		if prefix != "" {
			k = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok && len(sub) > 0 {
			flatten(k, sub, out)
			continue
		}
		out[k] = v
	}
}
