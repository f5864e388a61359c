// Package storage provides the gateways content is fetched from, the durable
// storage the cache and offline bundles live in, and the publish targets
// uploads are stored to.
//
// # Source Location Templates
//
// Descriptors name their sources with URL templates. The placeholder {id} is
// replaced by the content id; a template without it names a fixed object:
//
//   - https://ipfs.io/ipfs/{id}
//   - ipfs://127.0.0.1:5001/{id}
//   - s3://bucket-name/pages/{id}?region=us-west-2
//   - github://owner/repo/pages/{id}.png?ref=main
//   - file:///var/lib/content/mirror/{id}
//
// GatewayFactory maps a template to a Gateway, reusing one gateway per remote
// endpoint and optionally throttling each with a token bucket.
//
// # Durable Storage
//
// FileStorage keeps files in a directory and writes them atomically.
// BadgerStorage keeps them in an embedded Badger database and expires entries
// written with WriteFileTTL natively.
//
// # Publishing
//
// FileBackend, S3Backend and IPFSBackend implement interfaces.Publisher.
// MultiPublisher stores to every configured target and returns the locations
// of all targets that accepted the data:
//
//	factory := storage.NewGatewayFactory(log, storage.FactoryOptions{})
//	publisher, err := factory.CreateMultiPublisher([]string{
//	    "file:///var/lib/content/mirror",
//	    "s3://KEY:SECRET@bucket/uploads?region=eu-west-1",
//	})
package storage
