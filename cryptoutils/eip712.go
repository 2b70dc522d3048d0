package cryptoutils

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	// DecryptionDomainName is the EIP-712 domain name of user decryption requests.
	DecryptionDomainName = "Decryption"
	// DecryptionDomainVersion is the EIP-712 domain version of user decryption requests.
	DecryptionDomainVersion = "1"

	userDecryptPrimaryType = "UserDecryptRequestVerification"
)

// ErrInvalidSignatureLength is returned for signatures that are not 65 bytes.
var ErrInvalidSignatureLength = errors.New("invalid signature length")

// UserDecryptAuthorization is what a user signs to let the KMS re-encrypt
// their ciphertexts to PublicKey. The authorization covers ContractAddresses
// for DurationDays starting at StartTimestamp (unix seconds).
type UserDecryptAuthorization struct {
	PublicKey         []byte
	ContractAddresses []common.Address
	StartTimestamp    uint64
	DurationDays      uint64
	ExtraData         []byte
}

// UserDecryptTypedData builds the EIP-712 typed data for an authorization.
// The domain is bound to the chain and to the verifying (decryption) contract.
func UserDecryptTypedData(chainID uint64, verifyingContract common.Address, auth *UserDecryptAuthorization) apitypes.TypedData {
	contracts := make([]interface{}, len(auth.ContractAddresses))
	for i, addr := range auth.ContractAddresses {
		contracts[i] = addr.Hex()
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			userDecryptPrimaryType: {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
				{Name: "extraData", Type: "bytes"},
			},
		},
		PrimaryType: userDecryptPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              DecryptionDomainName,
			Version:           DecryptionDomainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(chainID)),
			VerifyingContract: verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         hexutil.Encode(auth.PublicKey),
			"contractAddresses": contracts,
			"startTimestamp":    strconv.FormatUint(auth.StartTimestamp, 10),
			"durationDays":      strconv.FormatUint(auth.DurationDays, 10),
			"extraData":         hexutil.Encode(auth.ExtraData),
		},
	}
}

// HashUserDecryptAuthorization returns the EIP-712 digest of an authorization.
func HashUserDecryptAuthorization(chainID uint64, verifyingContract common.Address, auth *UserDecryptAuthorization) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(UserDecryptTypedData(chainID, verifyingContract, auth))
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return digest, nil
}

// SignUserDecryptAuthorization signs an authorization. The returned signature
// uses the 27/28 recovery id convention of wallets.
func SignUserDecryptAuthorization(key *ecdsa.PrivateKey, chainID uint64, verifyingContract common.Address, auth *UserDecryptAuthorization) ([]byte, error) {
	digest, err := HashUserDecryptAuthorization(chainID, verifyingContract, auth)
	if err != nil {
		return nil, err
	}
	return signDigest(key, digest)
}

// RecoverUserDecryptSigner returns the account that signed an authorization.
func RecoverUserDecryptSigner(chainID uint64, verifyingContract common.Address, auth *UserDecryptAuthorization, signature []byte) (common.Address, error) {
	digest, err := HashUserDecryptAuthorization(chainID, verifyingContract, auth)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverDigestSigner(digest, signature)
}

func signDigest(key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverDigestSigner recovers the signer of a 32-byte digest. Recovery ids
// 0/1 and 27/28 are both accepted.
func RecoverDigestSigner(digest []byte, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("%w: %d", ErrInvalidSignatureLength, len(signature))
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
