package offline

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/zonebnation/ebizimba-content/interfaces"
)

// Durable storage layout.
const (
	ManifestPath = "offline/manifest.json"
	DataDir      = "offline/data"

	manifestVersion = 1
)

// Entry records one id confirmed available offline.
type Entry struct {
	ID       interfaces.ContentID `json:"id"`
	Path     string               `json:"path"`
	Size     int64                `json:"size"`
	StoredAt time.Time            `json:"stored_at"`
}

// Manifest lists the ids whose payloads have been durably written.
type Manifest struct {
	Version int                             `json:"version"`
	Entries map[interfaces.ContentID]Entry `json:"entries"`
}

func newManifest() *Manifest {
	return &Manifest{Version: manifestVersion, Entries: make(map[interfaces.ContentID]Entry)}
}

func decodeManifest(data []byte) (*Manifest, error) {
	m := newManifest()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to decode offline manifest: %w", err)
	}
	if m.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported offline manifest version %d", m.Version)
	}
	if m.Entries == nil {
		m.Entries = make(map[interfaces.ContentID]Entry)
	}
	return m, nil
}

func (m *Manifest) encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// sorted returns the entries ordered by id.
func (m *Manifest) sorted() []Entry {
	entries := make([]Entry, 0, len(m.Entries))
	for _, e := range m.Entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

func dataPath(id interfaces.ContentID) string {
	return DataDir + "/" + url.PathEscape(string(id))
}
