// Package interfaces defines the core types and ports of the content delivery
// layer. It provides the contract between components without implementation
// details.
//
// # Content
//
// A ContentDescriptor names one retrievable asset (a book, a scanned page, a
// cover image, audio or video) by a stable ContentID and lists the source
// location templates it can be fetched from, highest priority first:
//
//	https://ipfs.io/ipfs/{id}
//	ipfs://127.0.0.1:5001/{id}
//	s3://bucket/pages/{id}?region=eu-west-1
//	github://owner/repo/pages/{id}.png?ref=main
//	file:///var/lib/content/mirror/{id}
//
// Large uploads are split into chunks; the descriptor of the whole asset then
// carries a ChunkManifest and the asset is the ordered concatenation of the
// chunk payloads.
//
// # Ports
//
//   - Catalog: remote record store of descriptors
//   - Gateway / GatewayFactory: byte fetch from one source location
//   - DurableStorage: persistent storage for the cache and offline bundles
//   - Publisher: producer-side content registration
//   - Sequencer: logical ordering of ids for prefetch and offline ranges
//
// # Errors
//
// Sentinel errors classify failures: ErrNotRegistered (fatal), ErrTransientFetch
// (retried), ErrSourcesExhausted (terminal, retryable by the user),
// ErrStorageUnavailable (degrades silently), ErrInvalidRange (rejected before
// any I/O).
package interfaces
