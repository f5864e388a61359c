/*
Package httpserver exposes the content service over HTTP.

# Content Endpoints

  - GET /api/content/{id} - Fetch content bytes (cache, offline copy, then sources)
  - POST /api/content?title=&kind=&mime= - Upload a payload, chunked above the threshold
  - POST /api/prefetch/{id}?forward=&backward= - Warm the cache around an item

# Maintenance Endpoints

  - DELETE /api/content/{id} - Drop an item from both cache tiers
  - POST /api/offline/range - Download {"start","end"} for offline use
  - GET /api/offline/progress - Progress of the last offline download
  - POST /api/cache/clear - Empty both cache tiers
  - POST /api/cache/clear-memory - Empty the memory cache tier only
  - POST /api/registry/sync - Reload descriptors from the catalog
  - GET /api/registry/status - Registry, cache and job state

# Health Endpoints

  - GET /livez - Liveness check
  - GET /readyz - Readiness check
  - GET /drain - Mark server as not ready
  - GET /undrain - Mark server as ready

# Errors

Failed requests answer {"error": "...", "retryable": bool}:

  - unknown content id: 404
  - invalid range or request: 400
  - all sources exhausted: 502, retryable
  - offline download already running: 409
  - storage or publishing unavailable: 503

# Example Usage

	svc, err := delivery.Open(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	handler := httpserver.NewHandler(svc, cfg.Server.MaxUploadBytes, logger)
	srv, err := httpserver.New(&httpserver.HTTPServerConfig{
		ListenAddr:  ":8080",
		MetricsAddr: ":8090",
		Metrics:     m,
		Log:         logger,
	}, handler)
	if err != nil {
		return err
	}
	srv.RunInBackground()
	defer srv.Shutdown()
*/
package httpserver
