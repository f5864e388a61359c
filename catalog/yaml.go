package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

// PagePlaceholder is replaced by the zero-padded page number in page range
// source templates.
const PagePlaceholder = "{page}"

// SeedFile is the document a YAMLCatalog reads and writes.
type SeedFile struct {
	Content []interfaces.ContentDescriptor `yaml:"content,omitempty"`
	Pages   []PageRange                    `yaml:"pages,omitempty"`
}

// PageRange generates one descriptor per page, e.g. quran-page-001 through
// quran-page-604.
type PageRange struct {
	Prefix   string                 `yaml:"prefix"`
	Width    int                    `yaml:"width"`
	First    int                    `yaml:"first"`
	Last     int                    `yaml:"last"`
	Kind     interfaces.ContentKind `yaml:"kind"`
	MimeType string                 `yaml:"mime_type,omitempty"`

	// SourceLocations may use {page} for the padded number and {id} for the
	// full page id.
	SourceLocations []string `yaml:"source_locations"`
}

// ID returns the id of page n.
func (r PageRange) ID(n int) interfaces.ContentID {
	return interfaces.ContentID(fmt.Sprintf("%s%0*d", r.Prefix, r.Width, n))
}

func (r PageRange) descriptors() []interfaces.ContentDescriptor {
	if r.Last < r.First {
		return nil
	}
	descs := make([]interfaces.ContentDescriptor, 0, r.Last-r.First+1)
	for n := r.First; n <= r.Last; n++ {
		padded := fmt.Sprintf("%0*d", r.Width, n)
		desc := interfaces.ContentDescriptor{
			ID:       r.ID(n),
			Kind:     r.Kind,
			Title:    fmt.Sprintf("Page %d", n),
			MimeType: r.MimeType,
		}
		for _, tmpl := range r.SourceLocations {
			desc.SourceLocations = append(desc.SourceLocations, strings.ReplaceAll(tmpl, PagePlaceholder, padded))
		}
		descs = append(descs, desc)
	}
	return descs
}

// YAMLCatalog is a catalog kept in a YAML seed file. Explicit content entries
// take precedence over generated page entries with the same id.
type YAMLCatalog struct {
	path string
	log  *slog.Logger

	mu sync.Mutex
}

// NewYAMLCatalog creates a catalog reading path. A missing file is an empty
// catalog until the first Insert.
func NewYAMLCatalog(path string, log *slog.Logger) *YAMLCatalog {
	return &YAMLCatalog{
		path: path,
		log:  common.OrDefault(log),
	}
}

func (c *YAMLCatalog) load() (*SeedFile, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return &SeedFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing seed file %s: %w", c.path, err)
	}
	return &seed, nil
}

func (c *YAMLCatalog) save(seed *SeedFile) error {
	data, err := yaml.Marshal(seed)
	if err != nil {
		return fmt.Errorf("encoding seed file: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".seed-*.yaml")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), c.path)
}

// List returns the generated page entries followed by the explicit entries.
func (c *YAMLCatalog) List(ctx context.Context) ([]interfaces.ContentDescriptor, error) {
	c.mu.Lock()
	seed, err := c.load()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	explicit := make(map[interfaces.ContentID]struct{}, len(seed.Content))
	for _, desc := range seed.Content {
		explicit[desc.ID] = struct{}{}
	}

	var descs []interfaces.ContentDescriptor
	for _, r := range seed.Pages {
		for _, desc := range r.descriptors() {
			if _, ok := explicit[desc.ID]; !ok {
				descs = append(descs, desc)
			}
		}
	}

	for _, desc := range seed.Content {
		if err := desc.Validate(); err != nil {
			c.log.Warn("Skipping seed entry", slog.String("content_id", string(desc.ID)), "err", err)
			continue
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

// Insert adds or replaces an explicit entry and rewrites the file.
func (c *YAMLCatalog) Insert(ctx context.Context, desc interfaces.ContentDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seed, err := c.load()
	if err != nil {
		return err
	}

	replaced := false
	for i := range seed.Content {
		if seed.Content[i].ID == desc.ID {
			seed.Content[i] = desc
			replaced = true
			break
		}
	}
	if !replaced {
		seed.Content = append(seed.Content, desc)
	}
	return c.save(seed)
}

// Delete removes an explicit entry. Generated page entries are only removed
// by editing their page range.
func (c *YAMLCatalog) Delete(ctx context.Context, id interfaces.ContentID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seed, err := c.load()
	if err != nil {
		return err
	}

	kept := seed.Content[:0]
	for _, desc := range seed.Content {
		if desc.ID != id {
			kept = append(kept, desc)
		}
	}
	if len(kept) == len(seed.Content) {
		return nil
	}
	seed.Content = kept
	return c.save(seed)
}
