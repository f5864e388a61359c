/*
Package clients provides a client library for the content HTTP API.

ContentClient mirrors the operations of the in-process delivery.Service:

  - Fetch - Download content bytes by id
  - Upload - Store and register a payload
  - Prefetch - Warm the server cache around an id
  - DownloadOfflineRange / OfflineProgress - Run and observe offline downloads
  - Invalidate / ClearAll / ClearMemory - Drop cached content
  - Sync / Status - Reload and inspect the registry

Error responses are returned as *APIError, which matches the service's
sentinel errors with errors.Is:

	data, err := client.Fetch(ctx, "quran-page-001")
	if errors.Is(err, interfaces.ErrSourcesExhausted) {
		// offer a retry
	}
*/
package clients
