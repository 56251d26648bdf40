// Package catalog maps collection identifiers to the names users pick from
// and to the storage segment their documents live under.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/fabfab/makrai/links"
	"github.com/fabfab/makrai/search"
)

// Descriptor is what the collection picker shows.
type Descriptor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Entry configures one collection.
type Entry struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Segment string `yaml:"segment"`
}

// File is the on-disk catalog format.
type File struct {
	StorageBaseURL string  `yaml:"storage_base_url"`
	StrictEncoding bool    `yaml:"strict_encoding"`
	Collections    []Entry `yaml:"collections"`
}

func DefaultEntries() []Entry {
	return []Entry{
		{ID: "epotl-dp", Name: "E.POTL001 - Projeto GLP/C5+", Segment: "epotl-documentos"},
		{ID: "vopak-dp", Name: "E.VPAK001 - VOPAK", Segment: "vopak-documentos"},
		{ID: "recursos-humanos", Name: "Relações Humanas", Segment: "rh-documentos"},
		{ID: "normativos", Name: "Normativos Internos", Segment: "normativos-documentos"},
	}
}

type table struct {
	order    []string
	names    map[string]string
	ids      map[string]string
	resolver *links.Resolver
}

// Catalog is safe for concurrent use; Apply swaps the whole table at once.
type Catalog struct {
	lister  search.Lister
	baseURL string
	strict  bool
	logger  *slog.Logger
	current atomic.Pointer[table]
}

type Option func(*Catalog)

func WithStrictEncoding(strict bool) Option {
	return func(c *Catalog) { c.strict = strict }
}

// New builds a catalog over the default entries. lister may be nil, in which
// case only configured collections are offered.
func New(lister search.Lister, baseURL string, logger *slog.Logger, opts ...Option) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{lister: lister, baseURL: baseURL, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	c.Apply(File{Collections: DefaultEntries()})
	return c
}

// LoadFile reads a YAML catalog and applies it.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read catalog %s: %w", path, err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for i, entry := range file.Collections {
		if entry.ID == "" {
			return fmt.Errorf("parse catalog %s: collection %d has no id", path, i)
		}
	}

	c.Apply(file)
	return nil
}

// Apply replaces the table. An empty collection list keeps the defaults.
func (c *Catalog) Apply(file File) {
	entries := file.Collections
	if len(entries) == 0 {
		entries = DefaultEntries()
	}
	baseURL := c.baseURL
	if file.StorageBaseURL != "" {
		baseURL = file.StorageBaseURL
	}

	t := &table{
		names: make(map[string]string, len(entries)),
		ids:   make(map[string]string, len(entries)),
	}
	segments := links.DefaultSegments()
	for _, entry := range entries {
		t.order = append(t.order, entry.ID)
		name := entry.Name
		if name == "" {
			name = entry.ID
		}
		t.names[entry.ID] = name
		t.ids[name] = entry.ID
		if entry.Segment != "" {
			segments[entry.ID] = entry.Segment
		}
	}

	opts := []links.Option{links.WithSegments(segments)}
	if c.strict || file.StrictEncoding {
		opts = append(opts, links.WithStrictEncoding())
	}
	t.resolver = links.NewResolver(baseURL, opts...)

	c.current.Store(t)
}

// Collections lists configured collections first, in configured order,
// followed by any other index the search service reports, sorted by id.
// An unreachable search service is logged and the configured list returned.
func (c *Catalog) Collections(ctx context.Context) []Descriptor {
	t := c.current.Load()

	out := make([]Descriptor, 0, len(t.order))
	seen := make(map[string]bool, len(t.order))
	for _, id := range t.order {
		out = append(out, Descriptor{ID: id, Name: t.names[id]})
		seen[id] = true
	}

	if c.lister == nil {
		return out
	}
	remote, err := c.lister.ListCollections(ctx)
	if err != nil {
		c.logger.Warn("list collections failed", "error", err)
		return out
	}
	sort.Strings(remote)
	for _, id := range remote {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Descriptor{ID: id, Name: id})
	}
	return out
}

// DisplayName returns the user facing name of a collection, or the id itself.
func (c *Catalog) DisplayName(id string) string {
	if name, ok := c.current.Load().names[id]; ok {
		return name
	}
	return id
}

// IDFor maps a display name back to its identifier. Names that are not in
// the table are assumed to be identifiers already.
func (c *Catalog) IDFor(name string) string {
	if id, ok := c.current.Load().ids[name]; ok {
		return id
	}
	return name
}

func (c *Catalog) Resolve(name, collection string) string {
	return c.current.Load().resolver.Resolve(name, collection)
}

func (c *Catalog) Segment(collection string) string {
	return c.current.Load().resolver.Segment(collection)
}
