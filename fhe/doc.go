// Package fhe is the encryption runtime behind registry handles.
//
// Values are encrypted under a threshold Paillier network key
// (github.com/niclabs/tcpaillier). Every client ciphertext carries a
// zero-knowledge proof of plaintext knowledge, bound to the submitting user
// and the target contract, which the relayer checks before it derives a
// handle for the ciphertext and signs an input proof.
// Decryption requires a threshold of key shares and is performed by the KMS.
//
// Only the registry's types are supported: euint32 and eaddress.
package fhe
