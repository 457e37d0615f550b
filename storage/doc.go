// Package storage archives pipeline reports and uploaded source bundles in
// content-addressed backends.
//
// Content is identified by the SHA-256 of its bytes, so archiving the same
// report twice yields the same ContentID. Reports and bundles live in separate
// namespaces per backend.
//
// # Storage URI Format
//
//	file:///var/lib/agent-launch/archive
//	s3://bucket-name/prefix/?region=us-west-2&endpoint=https://minio:9000&path_style=true
//	ipfs://127.0.0.1:5001/?root=/agent-launch
//
// S3 credentials may be embedded as s3://ACCESS_KEY:SECRET_KEY@bucket/...; without them
// the AWS SDK default credential chain is used.
//
// # Redundancy
//
// Several URIs combine into a MultiStorageBackend that stores to every
// available backend and fetches from the first one holding the content.
//
// # Example Usage
//
//	factory := storage.NewStorageBackendFactory(logger)
//	archive, err := storage.OpenArchive(factory, []string{"file:///tmp/reports"})
//	id, err := archive.StoreResult(ctx, result)
//	result, err = archive.FetchResult(ctx, id)
package storage
