// Copyright (c) 2023, Circle Internet Financial, LTD. All rights reserved.
//
//  SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package keys holds the master/child shard key model: the 32-byte
// scalar shards held by the two parties and the 33-byte compressed
// public keys they combine to.
package keys

import (
	"crypto/rand"
	"encoding/hex"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/sigil-mpc/sigil/curve"
	"github.com/sigil-mpc/sigil/sigilerr"
)

// PublicKey is a 33-byte compressed secp256k1 point.
type PublicKey [33]byte

func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != 33 {
		return pk, sigilerr.New(sigilerr.InvalidInput, "public key must be 33 bytes")
	}
	if _, err := btcec.ParsePubKey(b); err != nil {
		return pk, sigilerr.Wrap(sigilerr.InvalidInput, err, "invalid compressed public key")
	}
	copy(pk[:], b)
	return pk, nil
}

func (p PublicKey) Bytes() []byte { return p[:] }

func (p PublicKey) Hex() string { return hex.EncodeToString(p[:]) }

func PublicKeyFromHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, sigilerr.Wrap(sigilerr.InvalidInput, err, "decode public key hex")
	}
	return PublicKeyFromBytes(b)
}

// MarshalJSON encodes the public key as its hex string, matching
// sigil-core/src/types.rs's hex_bytes_33 serde helper.
func (p PublicKey) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.Hex() + `"`), nil
}

func (p *PublicKey) UnmarshalJSON(b []byte) error {
	if len(b) < 2 {
		return sigilerr.New(sigilerr.InvalidInput, "malformed public key JSON")
	}
	decoded, err := PublicKeyFromHex(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*p = decoded
	return nil
}

// ChildId is the stable identifier of a child key: SHA-256 of the
// compressed combined public key.
type ChildId chainhash.Hash

// Hex encodes the id in natural byte order (first byte first), unlike
// chainhash.Hash.String's reversed display convention, so Short really
// is the id's leading bytes.
func (c ChildId) Hex() string { return hex.EncodeToString(c[:]) }

// Short returns the first 4 bytes, hex-encoded, for log lines and
// reconciliation file names.
func (c ChildId) Short() string { return c.Hex()[:8] }

// MarshalJSON encodes the child id as its hex string, matching
// sigil-core/src/types.rs's hex_bytes_32 serde helper so the mother's
// plaintext child_registry.json stays human-readable.
func (c ChildId) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.Hex() + `"`), nil
}

// UnmarshalJSON decodes the hex string produced by MarshalJSON.
func (c *ChildId) UnmarshalJSON(b []byte) error {
	if len(b) < 2 {
		return sigilerr.New(sigilerr.InvalidInput, "malformed child id JSON")
	}
	id, err := ChildIdFromHex(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*c = id
	return nil
}

func ChildIdFromPublicKey(pk PublicKey) ChildId {
	h := curve.SHA256(pk.Bytes())
	return ChildId(h)
}

func ChildIdFromHex(s string) (ChildId, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ChildId{}, sigilerr.Wrap(sigilerr.InvalidInput, err, "decode child id hex")
	}
	if len(b) != chainhash.HashSize {
		return ChildId{}, sigilerr.New(sigilerr.InvalidInput, "child id must be 32 bytes")
	}
	var id ChildId
	copy(id[:], b)
	return id, nil
}

// MasterShard is one party's half of the master key: a 32-byte scalar
// and the combined public key it forms together with the other
// party's half. Only the cold (mother-side) shard is modeled as
// sensitive state that this package zeroizes explicitly; the agent's
// shard lives in the agent package under its own custody.
type MasterShard struct {
	Secret    [32]byte
	CreatedAt uint64
}

// Zeroize overwrites the secret scalar. Callers must invoke this when
// a master shard leaves scope (session teardown, factory reset).
func (m *MasterShard) Zeroize() {
	for i := range m.Secret {
		m.Secret[i] = 0
	}
}

// GenerateMasterShard draws a uniformly random 32-byte scalar in
// [1, n-1], rejecting 0 and values >= n, matching
// sigil-mother/src/keygen.rs::MasterKeyGenerator::generate's draw step
// for a single party's half.
func GenerateMasterShard(createdAt uint64) (*MasterShard, error) {
	for {
		var buf [32]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, sigilerr.Wrap(sigilerr.Crypto, err, "read randomness")
		}
		s := new(big.Int).SetBytes(buf[:])
		if s.Sign() == 0 || s.Cmp(curve.N()) >= 0 {
			continue
		}
		return &MasterShard{Secret: buf, CreatedAt: createdAt}, nil
	}
}

// Scalar returns the shard's secret as a reduced big.Int.
func (m *MasterShard) Scalar() *big.Int {
	return new(big.Int).SetBytes(m.Secret[:])
}

// PublicPoint returns this shard's contribution point, compressed.
func (m *MasterShard) PublicPoint() []byte {
	return curve.ScalarBaseMult(m.Scalar())
}

// ChildShard is one party's derived child key for a given path.
type ChildShard struct {
	Secret [32]byte
}

func (c *ChildShard) Zeroize() {
	for i := range c.Secret {
		c.Secret[i] = 0
	}
}

func (c *ChildShard) Scalar() *big.Int {
	return new(big.Int).SetBytes(c.Secret[:])
}

func (c *ChildShard) PublicPoint() []byte {
	return curve.ScalarBaseMult(c.Scalar())
}

// CombinePublicPoints sums two compressed child contribution points
// into the child's combined public key, the authoritative point-add
// operation for both key generation and child derivation.
func CombinePublicPoints(cold, agent []byte) (PublicKey, error) {
	sum, err := curve.AddCompressed(cold, agent)
	if err != nil {
		return PublicKey{}, err
	}
	return PublicKeyFromBytes(sum)
}
