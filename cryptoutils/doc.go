// Package cryptoutils holds the account and transport cryptography shared by
// the registry node, the KMS and the CLI.
//
//   - ECIES (P-256 ECDH, SHA-256, AES-256-GCM) used by the KMS to return
//     decrypted values encrypted to a user's ephemeral key
//   - EIP-712 typed data for user decryption authorizations
//   - personal_sign style payload signatures for registry transactions
//   - an Argon2id/AES-GCM keystore for account keys
//
// # Encryption Format
//
// EncryptWithPublicKey produces:
//
//	[ephemeral key length (2 bytes)][ephemeral key][iv (12 bytes)][ciphertext]
//
// Where:
//   - Ephemeral key length: uint16 in big-endian format
//   - Ephemeral key: uncompressed P-256 point
//   - IV: 12-byte nonce for AES-GCM
//   - Ciphertext: The encrypted data with GCM authentication tag
//
// # Usage Example
//
//	pub, priv, err := cryptoutils.RandomP256Keypair()
//	if err != nil {
//	    return err
//	}
//
//	// The KMS encrypts a cleartext to pub, bound to its handle
//	sealed, err := cryptoutils.EncryptWithPublicKey(pub, cleartext, handle[:])
//
//	// The user opens it with priv and the same handle
//	opened, err := cryptoutils.DecryptWithPrivateKey(priv, sealed, handle[:])
package cryptoutils
