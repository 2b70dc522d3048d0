package registryhandler

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/encrypted-db-registry/cryptoutils"
	"github.com/ruteri/encrypted-db-registry/interfaces"
)

// SignedTransaction is a registry call authorized by the sender's
// secp256k1 key. The signature covers SigningPayload, which binds the call
// to one chain and one contract.
type SignedTransaction struct {
	From      common.Address  `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params"`
	Signature hexutil.Bytes   `json:"signature"`
}

type signingPayload struct {
	ChainID  uint64          `json:"chainId"`
	Contract common.Address  `json:"contract"`
	From     common.Address  `json:"from"`
	Nonce    uint64          `json:"nonce"`
	Method   string          `json:"method"`
	Params   json.RawMessage `json:"params"`
}

// SigningPayload returns the bytes signed with cryptoutils.SignPayload.
func (tx *SignedTransaction) SigningPayload(chainID uint64, contract common.Address) ([]byte, error) {
	return json.Marshal(signingPayload{
		ChainID:  chainID,
		Contract: contract,
		From:     tx.From,
		Nonce:    tx.Nonce,
		Method:   tx.Method,
		Params:   tx.Params,
	})
}

// VerifySender checks that the signature was produced by From.
func (tx *SignedTransaction) VerifySender(chainID uint64, contract common.Address) error {
	payload, err := tx.SigningPayload(chainID, contract)
	if err != nil {
		return err
	}

	signer, err := cryptoutils.RecoverPayloadSigner(payload, tx.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidSignature, err)
	}
	if signer != tx.From {
		return fmt.Errorf("%w: signed by %s, not %s", interfaces.ErrInvalidSignature, signer.Hex(), tx.From.Hex())
	}
	return nil
}

// SignTransaction builds and signs a transaction calling method with params.
func SignTransaction(key *ecdsa.PrivateKey, chainID uint64, contract common.Address, nonce uint64, method string, params any) (*SignedTransaction, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("could not encode params: %w", err)
	}

	tx := &SignedTransaction{
		From:   crypto.PubkeyToAddress(key.PublicKey),
		Nonce:  nonce,
		Method: method,
		Params: raw,
	}

	payload, err := tx.SigningPayload(chainID, contract)
	if err != nil {
		return nil, err
	}
	if tx.Signature, err = cryptoutils.SignPayload(key, payload); err != nil {
		return nil, err
	}
	return tx, nil
}

type CreateDatabaseParams struct {
	Name             string            `json:"name"`
	EncryptedAddress interfaces.Handle `json:"encryptedAddress"`
	InputProof       hexutil.Bytes     `json:"inputProof"`
}

type StoreEncryptedValueParams struct {
	DatabaseID       uint64            `json:"databaseId"`
	EncryptedValue   interfaces.Handle `json:"encryptedValue"`
	EncryptedAddress interfaces.Handle `json:"encryptedAddress"`
	InputProof       hexutil.Bytes     `json:"inputProof"`
}

type ShareEncryptedValueParams struct {
	DatabaseID uint64         `json:"databaseId"`
	EntryIndex uint64         `json:"entryIndex"`
	Target     common.Address `json:"target"`
}

type RefreshAddressAccessParams struct {
	DatabaseID uint64         `json:"databaseId"`
	Target     common.Address `json:"target"`
}

// TxResponse is returned for an accepted transaction. DatabaseID is set by
// createDatabase and EntryIndex by storeEncryptedValue.
type TxResponse struct {
	Receipt    *interfaces.Receipt `json:"receipt"`
	DatabaseID *uint64             `json:"databaseId,omitempty"`
	EntryIndex *uint64             `json:"entryIndex,omitempty"`
}

// InfoResponse describes the deployed registry.
type InfoResponse struct {
	Address       common.Address `json:"address"`
	ChainID       uint64         `json:"chainId"`
	BlockNumber   uint64         `json:"blockNumber"`
	DatabaseCount uint64         `json:"databaseCount"`
}

type AddressResponse struct {
	Handle interfaces.Handle `json:"handle"`
}

type OwnedDatabasesResponse struct {
	Owner     common.Address `json:"owner"`
	Databases []uint64       `json:"databases"`
}

type NonceResponse struct {
	Account common.Address `json:"account"`
	Nonce   uint64         `json:"nonce"`
}
