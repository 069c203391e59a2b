package config

import (
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

// LoadFile applies a YAML document of flag values to fs. Keys are flag names,
// nested mappings are joined with dots and lists with commas:
//
//	listen:
//	  - ipfix://:4739
//	templates:
//	  lifetime: 10m
//
// Flags given on the command line take precedence.
func LoadFile(fs *flag.FlagSet, r io.Reader) error {
	values := make(map[string]interface{})
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && err != io.EOF {
		return fmt.Errorf("decode config: %w", err)
	}

	flat := make(map[string]string)
	if err := flatten("", values, flat); err != nil {
		return err
	}

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = true
	})

	names := make([]string, 0, len(flat))
	for name := range flat {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if explicit[name] {
			continue
		}
		if fs.Lookup(name) == nil {
			return fmt.Errorf("unknown configuration key %q", name)
		}
		if err := fs.Set(name, flat[name]); err != nil {
			return fmt.Errorf("configuration key %q: %w", name, err)
		}
	}
	return nil
}

func flatten(prefix string, value interface{}, out map[string]string) error {
	switch v := value.(type) {
	case map[string]interface{}:
		for k, sub := range v {
			if err := flatten(join(prefix, k), sub, out); err != nil {
				return err
			}
		}
	case map[interface{}]interface{}:
		for k, sub := range v {
			if err := flatten(join(prefix, fmt.Sprint(k)), sub, out); err != nil {
				return err
			}
		}
	case []interface{}:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, fmt.Sprint(item))
		}
		out[prefix] = strings.Join(items, ",")
	case nil:
		out[prefix] = ""
	default:
		out[prefix] = fmt.Sprint(v)
	}
	return nil
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
