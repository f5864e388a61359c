// Package fetch implements the content fetch pipeline.
//
// A fetch checks the cache, then the offline bundles, then resolves the
// descriptor and walks its source locations in priority order. Each source is
// tried up to Policy.MaxRetriesPerSource times with exponential backoff before
// moving on; when every source has failed the caller receives an
// *interfaces.FetchError listing them. Chunked assets are fetched chunk by
// chunk and concatenated in manifest order.
//
// Concurrent fetches of the same id are coalesced into one trial sequence.
package fetch
