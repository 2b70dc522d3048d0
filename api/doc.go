/*
Package api holds the HTTP surface of the registry node.

The subpackages each pair a chi handler with a Go client for it:

  - relayerhandler: network key material, input proofs and user decryption
  - registryhandler: signed registry transactions and read-only views
  - adminhandler: Shamir share submission that unlocks the KMS

This package contains what they share: the JSON error envelope, the mapping
between sentinel errors and HTTP status codes, and a small JSON client.
Errors returned by the server are surfaced to client callers as
*RequestError values that unwrap to the original sentinel, so callers can
keep matching them with errors.Is.
*/
package api
