// Package registry implements the encrypted database registry contract and
// clients for it.
//
// A registry keeps named databases. Each database has an owner, an encrypted
// address (an eaddress ciphertext handle) and an append-only list of
// encrypted uint32 entries. Ciphertexts never pass through the registry in
// plaintext: callers submit handles together with an input proof signed by
// the coprocessors, and the registry records ACL grants that the KMS checks
// before it decrypts anything for a user.
//
// # Contract
//
// Contract executes registry transactions against a state.Store. Writes are
// serialized and each one runs in a single state transaction, so a reverted
// call leaves no record, entry, grant, event or nonce change behind. Every
// accepted transaction is assigned the next block number and produces a
// Receipt listing the events it emitted.
//
// Mutating entry points:
//
//   - createDatabase(name, addressHandle, proof) returns the new id
//   - storeEncryptedValue(id, valueHandle, addressHandle, proof) returns the entry index
//   - shareEncryptedValue(id, index, target), owner only
//   - refreshAddressAccess(id, target), owner only
//
// # Clients
//
// Three implementations of interfaces.EncryptedDBRegistry exist:
//
//   - Session binds an in-process Contract to a caller
//   - api/registryhandler.Client sends signed transactions to a registry node
//   - OnchainRegistryClient talks to a deployed contract through go-ethereum
//
// MockRegistry is a testify mock of the same interface.
package registry
