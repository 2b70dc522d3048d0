// Package storage keeps serialized ciphertexts and published key material
// behind pluggable backends.
//
// Registry handles are opaque 32-byte references; the ciphertext behind a
// handle lives off the ledger in one of these backends, keyed by the handle
// itself. Key material is keyed by its SHA-256 digest.
//
//   - File system storage for local development and testing
//   - S3-compatible object storage
//   - IPFS, through the node's mutable file system (MFS)
//   - Vault KV v2 with token authentication
//   - In-memory storage for tests and single-process deployments
//
// # Storage URI Format
//
// Backends are created from URIs by StorageBackendFactory:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
//   - file:///var/lib/registry/ciphertexts
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-west-2&endpoint=minio:9000
//   - ipfs://localhost:5001/registry
//   - vault://TOKEN@vault.example.com:8200/secret/registry?tls=true
//   - memory://
//
// # Redundancy
//
// MultiStorageBackend writes to every available backend and reads from the
// first one that has the content, so a ciphertext survives the loss of all
// but one backend.
package storage
