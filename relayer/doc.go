// Package relayer sits between clients and the coprocessor and KMS.
//
// Clients fetch the network public key with KeyInfo, encrypt their inputs
// locally and submit the ciphertexts with InputProof. The relayer checks each
// ciphertext's proof of plaintext knowledge, stores the ciphertext under its
// handle and returns the handles together with an input proof signed by the
// coprocessor key. Registry contracts accept a handle only with such a proof.
//
// UserDecrypt requests are forwarded to the KMS unchanged.
//
// The client side of both flows lives in sdk.go: Encrypt builds a verified
// input for a contract call, and Decrypt runs the user-decryption ceremony
// with a fresh ephemeral key.
package relayer
