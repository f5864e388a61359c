// Package catalog implements interfaces.Catalog, the remote record store the
// content registry synchronises from.
//
//   - HTTPCatalog talks to a PostgREST endpoint (the ipfs_content table of a
//     Supabase project).
//   - SQLiteCatalog keeps the same rows in a local SQLite database.
//   - YAMLCatalog reads a seed file listing content and page ranges.
//   - MemoryCatalog is an in-process catalog for tests and embedding.
//
// Rows without source locations are served from the public IPFS gateways in
// DefaultGatewayTemplates, in order. Page rows titled "Page N" can be mapped
// onto the page sequence with RowMapping.PageID.
package catalog
