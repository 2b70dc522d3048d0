// Package interfaces defines the types and interfaces shared by the
// encrypted database registry components, separating interface definitions
// from implementations.
//
// # Registry
//
// EncryptedDBRegistry is the caller-bound registry surface: creating a
// database with an encrypted address, appending encrypted values, granting
// decryption rights and the read accessors. It is implemented by the
// in-process contract session, the HTTP client and the on-chain client.
//
// # Encryption boundary
//
// Handle is the 32-byte reference to a ciphertext. ACL and InputVerifier
// are the two checks the registry delegates to the encryption runtime.
// Relayer and KMS describe the input-proof and user-decryption services.
//
// # Storage
//
// StorageBackend stores serialized ciphertexts keyed by handle across
// file, S3, IPFS, Vault and in-memory backends.
package interfaces
