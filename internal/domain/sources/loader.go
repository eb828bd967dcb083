package sources

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultDescriptor is the starting point for descriptor files: sources are
// active unless a file says otherwise.
func DefaultDescriptor() Descriptor {
	return Descriptor{Active: true}
}

// LoadDir reads every *.yaml / *.yml descriptor in dir. Files starting with
// "_" are skipped. Relative file paths inside descriptors resolve against
// dir. Valid descriptors are returned even when some files are invalid; the
// error then lists every rejected file.
func LoadDir(dir string) ([]Descriptor, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return []Descriptor{}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading source descriptor dir %s: %w", dir, err)
	}

	var descriptors []Descriptor
	var problems []string
	seen := make(map[string]string)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "_") {
			continue
		}
		if ext := filepath.Ext(name); ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, name)
		d, err := LoadFile(path)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		key := strings.ToLower(d.Name)
		if prev, dup := seen[key]; dup {
			problems = append(problems, fmt.Sprintf("%s: name %q already defined in %s", path, d.Name, prev))
			continue
		}
		seen[key] = path
		descriptors = append(descriptors, d)
	}

	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Name < descriptors[j].Name
	})

	if len(problems) > 0 {
		return descriptors, fmt.Errorf("invalid source descriptors:\n  %s", strings.Join(problems, "\n  "))
	}
	return descriptors, nil
}

// LoadFile reads, normalizes and validates one descriptor file.
func LoadFile(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("loading %s: %w", path, err)
	}

	d := DefaultDescriptor()
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("%s: parsing YAML: %w", path, err)
	}

	Normalize(&d)
	resolveRelative(&d, filepath.Dir(path))

	if err := Validate(d); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return Descriptor{}, fmt.Errorf("%s: %w", path, verr)
		}
		return Descriptor{}, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

func resolveRelative(d *Descriptor, base string) {
	if d.File != nil && d.File.Path != "" && !filepath.IsAbs(d.File.Path) {
		d.File.Path = filepath.Join(base, d.File.Path)
	}
	if d.Kind == KindSQLite && d.SQL != nil && d.SQL.DSN == "" && d.SQL.Database != "" && !filepath.IsAbs(d.SQL.Database) {
		d.SQL.Database = filepath.Join(base, d.SQL.Database)
	}
}
