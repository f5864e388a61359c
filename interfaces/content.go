package interfaces

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ContentID is a stable opaque string naming one retrievable asset.
// Uploaded content uses the hex SHA-256 of its bytes; catalog-provided ids
// (book UUIDs, IPFS CIDs, page ids) are taken as-is.
type ContentID string

// ComputeID calculates the content ID of data.
func ComputeID(data []byte) ContentID {
	hash := sha256.Sum256(data)
	return ContentID(hex.EncodeToString(hash[:]))
}

// String returns the id as a plain string.
func (id ContentID) String() string {
	return string(id)
}

// Short returns an abbreviated form of the id for logging.
func (id ContentID) Short() string {
	if len(id) <= 16 {
		return string(id)
	}
	return string(id[:16])
}

// Validate checks that the id is usable as a cache key and a path component.
func (id ContentID) Validate() error {
	if id == "" {
		return errors.New("empty content id")
	}
	if strings.ContainsAny(string(id), "\\\x00") || strings.Contains(string(id), "..") {
		return fmt.Errorf("invalid content id %q", string(id))
	}
	return nil
}

// ContentKind indicates what sort of asset a descriptor names.
type ContentKind int

const (
	// DocumentKind for books, articles and other text documents
	DocumentKind ContentKind = iota
	// PageImageKind for scanned pages and cover images
	PageImageKind
	// AudioKind for recitations and other audio
	AudioKind
	// VideoKind for short-video feed items
	VideoKind
)

// String returns kind name.
func (k ContentKind) String() string {
	switch k {
	case DocumentKind:
		return "document"
	case PageImageKind:
		return "page-image"
	case AudioKind:
		return "audio"
	case VideoKind:
		return "video"
	default:
		return "unknown"
	}
}

// ParseContentKind maps a kind name to a ContentKind. The legacy catalog
// spellings ("book", "quran_page", "image") are accepted as well.
func ParseContentKind(s string) (ContentKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "document", "book":
		return DocumentKind, nil
	case "page-image", "page_image", "quran_page", "image":
		return PageImageKind, nil
	case "audio":
		return AudioKind, nil
	case "video":
		return VideoKind, nil
	default:
		return 0, fmt.Errorf("unknown content kind: %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ContentKind) MarshalText() ([]byte, error) {
	if k < DocumentKind || k > VideoKind {
		return nil, fmt.Errorf("unknown content kind: %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ContentKind) UnmarshalText(text []byte) error {
	parsed, err := ParseContentKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ContentDescriptor represents one retrievable asset.
type ContentDescriptor struct {
	ID    ContentID   `json:"id" yaml:"id"`
	Kind  ContentKind `json:"kind" yaml:"kind"`
	Title string      `json:"title,omitempty" yaml:"title,omitempty"`

	// SourceLocations are URL templates, highest priority first.
	SourceLocations []string `json:"source_locations,omitempty" yaml:"source_locations,omitempty"`

	// ChunkManifest lists chunk ids in order; the asset is their concatenation.
	ChunkManifest []ContentID `json:"chunk_manifest,omitempty" yaml:"chunk_manifest,omitempty"`

	SizeBytes int64     `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty"`
	MimeType  string    `json:"mime_type,omitempty" yaml:"mime_type,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// IsChunked reports whether the asset must be assembled from chunks.
func (d ContentDescriptor) IsChunked() bool {
	return len(d.ChunkManifest) > 0
}

// Validate checks the descriptor invariants.
func (d ContentDescriptor) Validate() error {
	if err := d.ID.Validate(); err != nil {
		return err
	}
	if d.Kind < DocumentKind || d.Kind > VideoKind {
		return fmt.Errorf("descriptor %s: unknown kind %d", d.ID, int(d.Kind))
	}
	if len(d.SourceLocations) == 0 && len(d.ChunkManifest) == 0 {
		return fmt.Errorf("descriptor %s: no source locations or chunk manifest", d.ID)
	}
	for _, chunk := range d.ChunkManifest {
		if err := chunk.Validate(); err != nil {
			return fmt.Errorf("descriptor %s: chunk: %w", d.ID, err)
		}
	}
	return nil
}

// MergeSources returns a copy of d whose source locations are d's followed by
// any location of other not already present. Existing entries are never dropped.
func (d ContentDescriptor) MergeSources(other ContentDescriptor) ContentDescriptor {
	merged := d
	merged.SourceLocations = append([]string(nil), d.SourceLocations...)
	seen := make(map[string]struct{}, len(merged.SourceLocations))
	for _, loc := range merged.SourceLocations {
		seen[loc] = struct{}{}
	}
	for _, loc := range other.SourceLocations {
		if _, ok := seen[loc]; ok {
			continue
		}
		seen[loc] = struct{}{}
		merged.SourceLocations = append(merged.SourceLocations, loc)
	}
	if len(merged.ChunkManifest) == 0 && len(other.ChunkManifest) > 0 {
		merged.ChunkManifest = append([]ContentID(nil), other.ChunkManifest...)
	}
	if merged.SizeBytes == 0 {
		merged.SizeBytes = other.SizeBytes
	}
	if merged.MimeType == "" {
		merged.MimeType = other.MimeType
	}
	if merged.Title == "" {
		merged.Title = other.Title
	}
	return merged
}
