package fhe

import (
	"crypto/ecdsa"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/encrypted-db-registry/interfaces"
	"github.com/stretchr/testify/require"
)

var (
	testUser     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testContract = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

const testChainID = uint64(31337)

var testContext = ProofContext{User: testUser, Contract: testContract, ChainID: testChainID}

func networkKey(t *testing.T) *NetworkKey {
	t.Helper()
	key, err := TestNetworkKey()
	require.NoError(t, err)
	return key
}

func TestEncryptDecrypt(t *testing.T) {
	key := networkKey(t)

	t.Run("uint32", func(t *testing.T) {
		for _, v := range []uint32{0, 1, 777, 1<<32 - 1} {
			ct, err := key.Public().EncryptUint32(v, testContext)
			require.NoError(t, err)
			require.Equal(t, interfaces.FheUint32, ct.Type)
			require.NoError(t, key.Public().Verify(ct, testContext))

			clear, err := key.Decrypt(ct)
			require.NoError(t, err)
			got, err := clear.Uint32()
			require.NoError(t, err)
			require.Equal(t, v, got)
		}
	})

	t.Run("address", func(t *testing.T) {
		addr := common.HexToAddress("0x00000000000000000000000000000000000000aa")
		ct, err := key.Public().EncryptAddress(addr, testContext)
		require.NoError(t, err)
		require.NoError(t, key.Public().Verify(ct, testContext))

		clear, err := key.Decrypt(ct)
		require.NoError(t, err)
		got, err := clear.Address()
		require.NoError(t, err)
		require.Equal(t, addr, got)
		require.Equal(t, addr.Hex(), clear.String())

		_, err = clear.Uint32()
		require.ErrorIs(t, err, ErrUnsupportedType)
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := key.Public().Encrypt(interfaces.FheBool, EncodeUint32(1), testContext)
		require.ErrorIs(t, err, ErrUnsupportedType)
	})

	t.Run("missing proof", func(t *testing.T) {
		ct, err := key.Public().EncryptUint32(5, testContext)
		require.NoError(t, err)
		require.ErrorIs(t, key.Public().Verify(ct.WithoutProof(), testContext), ErrInvalidCiphertext)
	})

	t.Run("proof bound to context", func(t *testing.T) {
		ct, err := key.Public().EncryptUint32(5, testContext)
		require.NoError(t, err)

		other := testContext
		other.User = testContract
		require.ErrorIs(t, key.Public().Verify(ct, other), ErrInvalidEncryptionProof)

		other = testContext
		other.ChainID++
		require.ErrorIs(t, key.Public().Verify(ct, other), ErrInvalidEncryptionProof)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		ct, err := key.Public().EncryptUint32(5, testContext)
		require.NoError(t, err)
		other, err := key.Public().EncryptUint32(6, testContext)
		require.NoError(t, err)

		ct.Value = other.Value
		require.ErrorIs(t, key.Public().Verify(ct, testContext), ErrInvalidEncryptionProof)
	})

	t.Run("plaintext out of range", func(t *testing.T) {
		tests := []struct {
			name      string
			fheType   interfaces.FheType
			plaintext *big.Int
		}{
			{"negative", interfaces.FheUint32, big.NewInt(-1)},
			{"uint32 overflow", interfaces.FheUint32, new(big.Int).Lsh(big.NewInt(1), 32)},
			{"uint32 wide", interfaces.FheUint32, new(big.Int).Lsh(big.NewInt(1), 40)},
			{"address overflow", interfaces.FheAddress, new(big.Int).Lsh(big.NewInt(1), 160)},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := key.Public().Encrypt(tt.fheType, tt.plaintext, testContext)
				require.ErrorIs(t, err, ErrPlaintextRange)
			})
		}
	})

	t.Run("wide plaintext wraps on decryption", func(t *testing.T) {
		wide := new(big.Int).Lsh(big.NewInt(1), 40)
		wide.Add(wide, big.NewInt(777))
		ct, err := key.Public().encrypt(interfaces.FheUint32, wide, testContext)
		require.NoError(t, err)
		require.NoError(t, key.Public().Verify(ct, testContext))

		clear, err := key.Decrypt(ct)
		require.NoError(t, err)
		got, err := clear.Uint32()
		require.NoError(t, err)
		require.Equal(t, uint32(777), got)
	})
}

func TestCiphertextSerialization(t *testing.T) {
	key := networkKey(t)
	ct, err := key.Public().EncryptUint32(42, testContext)
	require.NoError(t, err)

	raw, err := ct.Marshal()
	require.NoError(t, err)

	parsed, err := UnmarshalCiphertext(raw)
	require.NoError(t, err)
	require.Equal(t, ct.Digest(), parsed.Digest())

	_, err = UnmarshalCiphertext([]byte(`{"type":0,"value":12}`))
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = UnmarshalCiphertext([]byte(`{"type":4}`))
	require.ErrorIs(t, err, ErrInvalidCiphertext)

	_, err = UnmarshalCiphertext([]byte(`not json`))
	require.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDecodeWraps(t *testing.T) {
	v, err := DecodeUint32(EncodeAddress(testUser))
	require.NoError(t, err)
	require.Equal(t, uint32(0x11111111), v)

	v, err = DecodeUint32(EncodeUint32(7))
	require.NoError(t, err)
	require.Equal(t, uint32(7), v)

	wide := new(big.Int).Lsh(big.NewInt(1), 160)
	wide.Add(wide, EncodeAddress(testContract))
	addr, err := DecodeAddress(wide)
	require.NoError(t, err)
	require.Equal(t, testContract, addr)

	_, err = DecodeUint32(big.NewInt(-1))
	require.ErrorIs(t, err, ErrPlaintextRange)
}

func TestNetworkKeySaveLoad(t *testing.T) {
	key := networkKey(t)
	path := filepath.Join(t.TempDir(), "network-key.json")
	require.NoError(t, key.Save(path))

	loaded, err := LoadNetworkKey(path)
	require.NoError(t, err)
	require.Equal(t, key.Threshold(), loaded.Threshold())

	ct, err := key.Public().EncryptUint32(1234, testContext)
	require.NoError(t, err)
	clear, err := loaded.Decrypt(ct)
	require.NoError(t, err)
	v, err := clear.Uint32()
	require.NoError(t, err)
	require.Equal(t, uint32(1234), v)

	_, err = LoadNetworkKey(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestDeriveHandle(t *testing.T) {
	key := networkKey(t)
	ct, err := key.Public().EncryptUint32(9, testContext)
	require.NoError(t, err)

	h, err := DeriveHandle(ct, 3, testContract, testUser, testChainID)
	require.NoError(t, err)
	require.Equal(t, uint8(3), h.Index())
	require.Equal(t, testChainID, h.ChainID())
	require.Equal(t, interfaces.FheUint32, h.Type())
	require.Equal(t, interfaces.HandleVersion, h.Version())

	again, err := DeriveHandle(ct, 3, testContract, testUser, testChainID)
	require.NoError(t, err)
	require.Equal(t, h, again)

	otherUser, err := DeriveHandle(ct, 3, testContract, testContract, testChainID)
	require.NoError(t, err)
	require.NotEqual(t, h, otherUser)
}

func signedProof(t *testing.T, signers ...*ecdsa.PrivateKey) (*InputProof, []interfaces.Handle) {
	t.Helper()
	key := networkKey(t)

	cts, err := NewEncryptedInput(key.Public(), testContract, testUser, testChainID).AddAddress(testUser).AddUint32(777).Encrypt()
	require.NoError(t, err)

	handles := make([]interfaces.Handle, len(cts))
	for i, ct := range cts {
		handles[i], err = DeriveHandle(ct, uint8(i), testContract, testUser, testChainID)
		require.NoError(t, err)
	}

	proof, err := SignInputProof(handles, testUser, testContract, testChainID, signers...)
	require.NoError(t, err)
	return proof, handles
}

func TestInputProofEncoding(t *testing.T) {
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)

	proof, handles := signedProof(t, signer)
	raw := proof.Bytes()
	require.Len(t, raw, 2+2*32+65)
	require.Equal(t, byte(2), raw[0])
	require.Equal(t, byte(1), raw[1])

	parsed, err := ParseInputProof(raw)
	require.NoError(t, err)
	require.Equal(t, handles, parsed.Handles)
	require.Equal(t, proof.Signatures, parsed.Signatures)

	_, err = ParseInputProof(raw[:len(raw)-1])
	require.ErrorIs(t, err, ErrMalformedInputProof)
	_, err = ParseInputProof([]byte{1})
	require.ErrorIs(t, err, ErrMalformedInputProof)
}

func TestInputVerifier(t *testing.T) {
	copro1, err := crypto.GenerateKey()
	require.NoError(t, err)
	copro2, err := crypto.GenerateKey()
	require.NoError(t, err)

	verifier, err := NewInputVerifier(testChainID, []common.Address{
		crypto.PubkeyToAddress(copro1.PublicKey),
		crypto.PubkeyToAddress(copro2.PublicKey),
	})
	require.NoError(t, err)

	proof, handles := signedProof(t, copro1, copro2)
	partial, _ := signedProof(t, copro1)

	foreign := handles[0]
	foreign[0] ^= 0xff

	tests := []struct {
		name     string
		handle   interfaces.Handle
		user     common.Address
		contract common.Address
		proof    []byte
		wantErr  bool
	}{
		{name: "address handle", handle: handles[0], user: testUser, contract: testContract, proof: proof.Bytes()},
		{name: "value handle", handle: handles[1], user: testUser, contract: testContract, proof: proof.Bytes()},
		{name: "wrong user", handle: handles[0], user: testContract, contract: testContract, proof: proof.Bytes(), wantErr: true},
		{name: "wrong contract", handle: handles[0], user: testUser, contract: testUser, proof: proof.Bytes(), wantErr: true},
		{name: "handle not covered", handle: foreign, user: testUser, contract: testContract, proof: proof.Bytes(), wantErr: true},
		{name: "missing coprocessor", handle: partial.Handles[0], user: testUser, contract: testContract, proof: partial.Bytes(), wantErr: true},
		{name: "garbage", handle: handles[0], user: testUser, contract: testContract, proof: []byte{0xde, 0xad}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := verifier.VerifyInput(tc.handle, tc.user, tc.contract, tc.proof)
			if tc.wantErr {
				require.ErrorIs(t, err, interfaces.ErrInvalidProof)
				return
			}
			require.NoError(t, err)
		})
	}

	_, err = NewInputVerifier(testChainID, nil)
	require.Error(t, err)
}

func TestInputProofLegacyRecoveryID(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	handles := []interfaces.Handle{{1, 30: byte(interfaces.FheUint32)}}

	proof, err := SignInputProof(handles, testUser, testContract, testChainID, key)
	require.NoError(t, err)
	proof.Signatures[0][crypto.RecoveryIDOffset] += 27

	signers, err := proof.Signers(testUser, testContract, testChainID)
	require.NoError(t, err)
	require.Equal(t, []common.Address{crypto.PubkeyToAddress(key.PublicKey)}, signers)

	proof.Signatures[0] = proof.Signatures[0][:64]
	_, err = proof.Signers(testUser, testContract, testChainID)
	require.Error(t, err)
}
