// Package main (cmd/contentserver) serves the content API over HTTP.
//
// The server resolves content ids through the configured catalog, serves them
// from the two-tier cache or fetches them from their sources, accepts uploads
// and runs offline downloads. Registry sync and cache expiry run in the
// background for the lifetime of the process.
//
// Configuration comes from a TOML file (--config) with flags and EBIZIMBA_*
// environment variables overriding individual settings.
//
// On SIGINT or SIGTERM the server stops reporting ready, waits for the drain
// period and then shuts both listeners down gracefully.
//
// Example usage:
//
//	contentserver --config /etc/ebizimba/content.toml --log-json
//	contentserver --catalog yaml --catalog-path catalog.yaml --durable badger --durable-path /var/lib/ebizimba
package main
