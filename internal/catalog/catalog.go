// Package catalog holds the fixed list of grib fields extracted from each ERA5
// archive and the variables fed to the PCA drivers.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

var ErrUnknownVariable = errors.New("unknown variable")

// Field is one record of a grib archive. Index is the 1-based wgrib record
// number; Suffix names the per-variable output directory. Name and Level are
// the wgrib short-inventory parameter and level strings, checked only when set.
type Field struct {
	Index  int    `yaml:"index"`
	Suffix string `yaml:"suffix"`
	Name   string `yaml:"name,omitempty"`
	Level  string `yaml:"level,omitempty"`
}

type Catalog struct {
	Fields    []Field  `yaml:"fields"`
	Variables []string `yaml:"variables,omitempty"`
}

// Default is the ERA5 pressure-level layout used for the East Asia domain
// (10-50N, 100-140E, 0.25 degree).
func Default() Catalog {
	fields := []Field{
		{Index: 1, Suffix: "z500", Name: "Z", Level: "500 mb"},
		{Index: 2, Suffix: "t850", Name: "T", Level: "850 mb"},
		{Index: 3, Suffix: "t700", Name: "T", Level: "700 mb"},
		{Index: 4, Suffix: "q850", Name: "Q", Level: "850 mb"},
		{Index: 5, Suffix: "q700", Name: "Q", Level: "700 mb"},
		{Index: 6, Suffix: "u850", Name: "U", Level: "850 mb"},
		{Index: 7, Suffix: "v850", Name: "V", Level: "850 mb"},
		{Index: 8, Suffix: "u200", Name: "U", Level: "200 mb"},
		{Index: 9, Suffix: "v200", Name: "V", Level: "200 mb"},
		{Index: 10, Suffix: "w500", Name: "W", Level: "500 mb"},
	}
	return Catalog{Fields: fields, Variables: suffixes(fields)}
}

// Load reads a YAML catalog. When the file lists no variables, every field
// suffix is used in field order.
func Load(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}

	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	if len(c.Variables) == 0 {
		c.Variables = suffixes(c.Fields)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Validate reports every problem in the catalog at once.
func (c Catalog) Validate() error {
	var result *multierror.Error

	if len(c.Fields) == 0 {
		result = multierror.Append(result, errors.New("no fields defined"))
	}

	indices := make(map[int]bool)
	seen := make(map[string]bool)
	for i, f := range c.Fields {
		if f.Index < 1 {
			result = multierror.Append(result, fmt.Errorf("field %d: index %d must be >= 1", i, f.Index))
		}
		if indices[f.Index] {
			result = multierror.Append(result, fmt.Errorf("field %d: duplicate index %d", i, f.Index))
		}
		indices[f.Index] = true

		switch {
		case f.Suffix == "":
			result = multierror.Append(result, fmt.Errorf("field %d: empty suffix", i))
		case strings.ContainsAny(f.Suffix, `/\`) || f.Suffix == "." || f.Suffix == "..":
			result = multierror.Append(result, fmt.Errorf("field %d: suffix %q is not a single path element", i, f.Suffix))
		case seen[f.Suffix]:
			result = multierror.Append(result, fmt.Errorf("field %d: duplicate suffix %q", i, f.Suffix))
		}
		seen[f.Suffix] = true
	}

	for i, v := range c.Variables {
		if strings.TrimSpace(v) == "" {
			result = multierror.Append(result, fmt.Errorf("variable %d: empty name", i))
		}
	}

	return result.ErrorOrNil()
}

// FieldsFor returns the fields whose suffix is in want, in catalog order. An
// empty want selects every field.
func (c Catalog) FieldsFor(want []string) ([]Field, error) {
	if len(want) == 0 {
		return c.Fields, nil
	}

	bySuffix := make(map[string]bool, len(c.Fields))
	for _, f := range c.Fields {
		bySuffix[f.Suffix] = true
	}
	for _, w := range want {
		if !bySuffix[w] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, w)
		}
	}

	wanted := toSet(want)
	var out []Field
	for _, f := range c.Fields {
		if wanted[f.Suffix] {
			out = append(out, f)
		}
	}
	return out, nil
}

// Select returns the configured variables filtered by want, keeping catalog
// order. An empty want selects every variable.
func (c Catalog) Select(want []string) ([]string, error) {
	if len(want) == 0 {
		return c.Variables, nil
	}

	known := toSet(c.Variables)
	for _, w := range want {
		if !known[w] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownVariable, w)
		}
	}

	wanted := toSet(want)
	var out []string
	for _, v := range c.Variables {
		if wanted[v] {
			out = append(out, v)
		}
	}
	return out, nil
}

func suffixes(fields []Field) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.Suffix)
	}
	return out
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[s] = true
	}
	return m
}
