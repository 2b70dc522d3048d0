package fhe

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Statistical hiding margin of the response, in bits, on top of the
// challenge size.
const (
	challengeBits = 256
	hidingBits    = 128
)

var ErrInvalidEncryptionProof = errors.New("invalid proof of plaintext knowledge")

// ProofContext binds a proof of plaintext knowledge to the account and
// contract the ciphertext is submitted for, so it cannot be replayed by
// anyone else.
type ProofContext struct {
	User     common.Address
	Contract common.Address
	ChainID  uint64
}

// KnowledgeProof is a non-interactive proof that the encryptor knows the
// plaintext and randomness of a ciphertext c = g^m * r^(N^s) mod N^(s+1)
// with g = N+1. The verifier checks g^Z * W^(N^s) == A * c^e, where e is
// derived from the statement and the context.
type KnowledgeProof struct {
	A *big.Int `json:"a"`
	Z *big.Int `json:"z"`
	W *big.Int `json:"w"`
}

type modulus struct {
	n         *big.Int
	nToS      *big.Int
	nToSPlus1 *big.Int
	g         *big.Int
}

func newModulus(n *big.Int, s uint8) modulus {
	nToS := new(big.Int).Exp(n, big.NewInt(int64(s)), nil)
	return modulus{
		n:         n,
		nToS:      nToS,
		nToSPlus1: new(big.Int).Mul(nToS, n),
		g:         new(big.Int).Add(n, big.NewInt(1)),
	}
}

// unit samples a uniformly random element of Z*_N.
func (m modulus) unit() (*big.Int, error) {
	one := big.NewInt(1)
	for {
		r, err := rand.Int(rand.Reader, m.n)
		if err != nil {
			return nil, err
		}
		if r.Sign() > 0 && new(big.Int).GCD(nil, nil, r, m.n).Cmp(one) == 0 {
			return r, nil
		}
	}
}

// inGroup reports whether 0 < v < bound and v is coprime to N.
func (m modulus) inGroup(v, bound *big.Int) bool {
	return v != nil && v.Sign() > 0 && v.Cmp(bound) < 0 &&
		new(big.Int).GCD(nil, nil, v, m.n).Cmp(big.NewInt(1)) == 0
}

func (m modulus) challenge(c, a *big.Int, pc ProofContext) *big.Int {
	var chainID [8]byte
	binary.BigEndian.PutUint64(chainID[:], pc.ChainID)
	digest := crypto.Keccak256(
		m.n.Bytes(), c.Bytes(), a.Bytes(),
		pc.User.Bytes(), pc.Contract.Bytes(), chainID[:],
	)
	return new(big.Int).SetBytes(digest)
}

func (m modulus) prove(c, plaintext, r *big.Int, pc ProofContext) (*KnowledgeProof, error) {
	bound := new(big.Int).Lsh(big.NewInt(1), uint(m.nToS.BitLen()+challengeBits+hidingBits))
	x, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return nil, err
	}
	u, err := m.unit()
	if err != nil {
		return nil, err
	}

	a := new(big.Int).Exp(m.g, x, m.nToSPlus1)
	a.Mul(a, new(big.Int).Exp(u, m.nToS, m.nToSPlus1)).Mod(a, m.nToSPlus1)

	e := m.challenge(c, a, pc)

	z := new(big.Int).Mul(e, plaintext)
	z.Add(z, x)

	w := new(big.Int).Exp(r, e, m.n)
	w.Mul(w, u).Mod(w, m.n)

	return &KnowledgeProof{A: a, Z: z, W: w}, nil
}

func (m modulus) verify(c *big.Int, proof *KnowledgeProof, pc ProofContext) error {
	if !m.inGroup(c, m.nToSPlus1) {
		return fmt.Errorf("%w: ciphertext out of range", ErrInvalidEncryptionProof)
	}
	if proof == nil || !m.inGroup(proof.A, m.nToSPlus1) || !m.inGroup(proof.W, m.n) || proof.Z == nil || proof.Z.Sign() < 0 {
		return fmt.Errorf("%w: malformed proof", ErrInvalidEncryptionProof)
	}

	e := m.challenge(c, proof.A, pc)

	lhs := new(big.Int).Exp(m.g, proof.Z, m.nToSPlus1)
	lhs.Mul(lhs, new(big.Int).Exp(proof.W, m.nToS, m.nToSPlus1)).Mod(lhs, m.nToSPlus1)

	rhs := new(big.Int).Exp(c, e, m.nToSPlus1)
	rhs.Mul(rhs, proof.A).Mod(rhs, m.nToSPlus1)

	if lhs.Cmp(rhs) != 0 {
		return ErrInvalidEncryptionProof
	}
	return nil
}
