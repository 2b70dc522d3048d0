// Package kms performs user decryption of registry ciphertexts.
//
// A user asks for decryption by signing an EIP-712 authorization over an
// ephemeral P-256 public key, the contracts whose handles may be decrypted
// and a validity window. The KMS checks, for every requested handle:
//
//   - the authorization was signed by the requesting user
//   - the window contains the current time and lasts at most 365 days
//   - the handle's contract is listed in the authorization
//   - both the user and the contract hold an ACL grant on the handle
//
// It then decrypts the ciphertext with the threshold network key, encrypts
// the 32-byte big-endian cleartext to the user's public key and signs the
// whole response with its secp256k1 signer.
//
// # KMS
//
// The basic implementation derives its signer from a master key given at
// startup. A KMS restarted with the same master key keeps its signer address,
// so clients can pin it.
//
// # ShamirKMS
//
// The master key is split into shares, distributed to administrators, and
// never stored in persistent storage. A ShamirKMS starts locked and refuses
// all decryptions with interfaces.ErrKMSLocked until a threshold of
// administrators submit their shares, each signed with the administrator's
// P-256 key over ShareDigest.
//
//   - Split into N shares, requiring M (threshold) shares to reconstruct
//   - Each share distributed to a different administrator
//   - Shares cryptographically signed by administrators' private keys
//   - Reconstructed key exists only in memory
//
// # Usage Example
//
//	k, err := kms.NewShamirKMSRecovery(kms.ShamirConfig{
//	    Threshold:    2,
//	    AdminPubKeys: adminPEMs,
//	}, kms.Dependencies{
//	    NetworkKey:  networkKey,
//	    ACL:         contract.ACL(),
//	    Ciphertexts: ciphertexts,
//	}, kms.Config{ChainID: 31337, VerifyingContract: decryptionAddress}, log)
//
//	// Each admin: SignShare(i, share, adminKey), then SubmitShare(...)
//	resp, err := k.UserDecrypt(ctx, req)
package kms
