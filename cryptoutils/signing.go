package cryptoutils

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// TextDigest is the personal_sign digest of keccak256(payload).
func TextDigest(payload []byte) []byte {
	return accounts.TextHash(crypto.Keccak256(payload))
}

// SignPayload signs a payload the way wallets sign messages, so that a
// transaction body can be signed by any personal_sign capable wallet.
func SignPayload(key *ecdsa.PrivateKey, payload []byte) ([]byte, error) {
	return signDigest(key, TextDigest(payload))
}

// RecoverPayloadSigner returns the account that signed payload with SignPayload.
func RecoverPayloadSigner(payload []byte, signature []byte) (common.Address, error) {
	return RecoverDigestSigner(TextDigest(payload), signature)
}
