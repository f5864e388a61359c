package catalog

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/zonebnation/ebizimba-content/interfaces"
)

// DefaultGatewayTemplates are the public IPFS gateways tried, in order, for
// catalog rows that carry no source locations of their own.
var DefaultGatewayTemplates = []string{
	"https://ipfs.io/ipfs/{id}",
	"https://ebizimba.infura-ipfs.io/ipfs/{id}",
	"https://cloudflare-ipfs.com/ipfs/{id}",
}

var pageTitlePattern = regexp.MustCompile(`(?i)page\s*(\d+)`)

// Row is one record of the ipfs_content table.
type Row struct {
	CID             string    `json:"cid"`
	Title           string    `json:"title,omitempty"`
	Type            string    `json:"type"`
	Chunks          []string  `json:"chunks,omitempty"`
	SourceLocations []string  `json:"source_locations,omitempty"`
	MimeType        string    `json:"mime_type,omitempty"`
	Size            int64     `json:"size,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// RowMapping controls how rows become descriptors.
type RowMapping struct {
	// Gateways are the templates used for rows without source locations. They
	// are expanded with the row's cid. Nil uses DefaultGatewayTemplates.
	Gateways []string

	// PageID, if set, names legacy page-image rows titled "Page N" by page
	// number instead of by cid, so they line up with the page sequence. Rows
	// with source locations or chunks are never renamed.
	PageID func(n int) (interfaces.ContentID, bool)
}

func (m RowMapping) gateways() []string {
	if m.Gateways == nil {
		return DefaultGatewayTemplates
	}
	return m.Gateways
}

// Descriptor converts a row into a content descriptor.
func (m RowMapping) Descriptor(row Row) (interfaces.ContentDescriptor, error) {
	kind, err := interfaces.ParseContentKind(row.Type)
	if err != nil {
		return interfaces.ContentDescriptor{}, fmt.Errorf("row %s: %w", row.CID, err)
	}

	desc := interfaces.ContentDescriptor{
		ID:        interfaces.ContentID(row.CID),
		Kind:      kind,
		Title:     row.Title,
		SizeBytes: row.Size,
		MimeType:  row.MimeType,
		CreatedAt: row.CreatedAt,
	}

	for _, c := range row.Chunks {
		desc.ChunkManifest = append(desc.ChunkManifest, interfaces.ContentID(c))
	}

	if len(row.SourceLocations) > 0 {
		desc.SourceLocations = append([]string(nil), row.SourceLocations...)
	} else if len(row.Chunks) == 0 {
		// The row's cid names the object on every public gateway.
		for _, tmpl := range m.gateways() {
			desc.SourceLocations = append(desc.SourceLocations, interfaces.ExpandTemplate(tmpl, desc.ID))
		}
	}

	// Only legacy rows, which carry neither sources nor chunks, are renamed.
	// Rows written through RowFromDescriptor keep the id they were stored with.
	legacy := len(row.SourceLocations) == 0 && len(row.Chunks) == 0
	if kind == interfaces.PageImageKind && m.PageID != nil && legacy {
		if match := pageTitlePattern.FindStringSubmatch(row.Title); match != nil {
			n, _ := strconv.Atoi(match[1])
			if id, ok := m.PageID(n); ok {
				desc.ID = id
			}
		}
	}

	return desc, desc.Validate()
}

// RowFromDescriptor converts a descriptor into a row. Page-image rows keep
// their id as cid.
func RowFromDescriptor(desc interfaces.ContentDescriptor) Row {
	row := Row{
		CID:             string(desc.ID),
		Title:           desc.Title,
		Type:            legacyType(desc.Kind),
		SourceLocations: append([]string(nil), desc.SourceLocations...),
		MimeType:        desc.MimeType,
		Size:            desc.SizeBytes,
		CreatedAt:       desc.CreatedAt,
	}
	for _, c := range desc.ChunkManifest {
		row.Chunks = append(row.Chunks, string(c))
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	return row
}

// legacyType returns the type spelling existing ipfs_content rows use.
func legacyType(kind interfaces.ContentKind) string {
	switch kind {
	case interfaces.DocumentKind:
		return "book"
	case interfaces.PageImageKind:
		return "quran_page"
	default:
		return kind.String()
	}
}
