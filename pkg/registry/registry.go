// Package registry holds the set of corpora a server exposes. A Registry is
// an immutable snapshot; reloading builds a new one.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Descriptor describes one corpus. Path is never shown to clients.
type Descriptor struct {
	Name      string
	Path      string
	FileSize  int64
	Entries   int64
	ShortDesc string
	LongDesc  string
}

type Registry struct {
	byName map[string]Descriptor
	sorted []Descriptor
}

// New builds a registry from descriptors. Names must be unique, non-empty
// and free of '/'.
func New(descs []Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		if err := validateName(d.Name); err != nil {
			return nil, err
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate corpus %q", d.Name)
		}
		if strings.TrimSpace(d.Path) == "" {
			return nil, fmt.Errorf("registry: corpus %q has no path", d.Name)
		}
		r.byName[d.Name] = d
		r.sorted = append(r.sorted, d)
	}
	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i].Name < r.sorted[j].Name })
	return r, nil
}

func validateName(name string) error {
	if name == "" {
		return errors.New("registry: corpus name is empty")
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("registry: corpus name %q contains '/'", name)
	}
	return nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	if r == nil {
		return Descriptor{}, false
	}
	d, ok := r.byName[name]
	return d, ok
}

// All returns the descriptors sorted by name.
func (r *Registry) All() []Descriptor {
	if r == nil {
		return nil
	}
	return append([]Descriptor(nil), r.sorted...)
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.sorted)
}

type fileEntry struct {
	Path      string `yaml:"path" toml:"path"`
	FileSize  int64  `yaml:"filesize" toml:"filesize"`
	Entries   int64  `yaml:"entries" toml:"entries"`
	ShortDesc string `yaml:"shortdesc" toml:"shortdesc"`
	LongDesc  string `yaml:"longdesc" toml:"longdesc"`
}

type file struct {
	Corpora map[string]fileEntry `yaml:"corpora" toml:"corpora"`
}

// Load reads a registry file. Files ending in .toml are decoded as TOML,
// everything else as YAML. Relative corpus paths are resolved against the
// directory of the registry file, and a missing filesize is taken from the
// corpus file on disk when it exists.
func Load(path string) (*Registry, error) {
	// #nosec G304 -- path is provided by trusted config/flag.
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(b, &f)
	} else {
		err = yaml.Unmarshal(b, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: decode %s: %w", path, err)
	}
	base := filepath.Dir(path)
	descs := make([]Descriptor, 0, len(f.Corpora))
	for name, e := range f.Corpora {
		p := strings.TrimSpace(e.Path)
		if p != "" && !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		d := Descriptor{
			Name:      name,
			Path:      p,
			FileSize:  e.FileSize,
			Entries:   e.Entries,
			ShortDesc: e.ShortDesc,
			LongDesc:  e.LongDesc,
		}
		if d.FileSize == 0 && p != "" {
			if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
				d.FileSize = fi.Size()
			}
		}
		descs = append(descs, d)
	}
	return New(descs)
}
