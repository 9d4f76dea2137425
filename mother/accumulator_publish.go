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

package mother

import (
	"encoding/base64"
	"encoding/binary"
	"math/big"
	"strings"

	"github.com/sigil-mpc/sigil/accumulator"
	"github.com/sigil-mpc/sigil/curve"
	"github.com/sigil-mpc/sigil/keys"
	"github.com/sigil-mpc/sigil/signing"
	"github.com/sigil-mpc/sigil/sigilerr"
)

// AccumulatorPublicationPrefix identifies the QR/USB-transportable
// accumulator publication record, matching spec.md §6.
const AccumulatorPublicationPrefix = "SIGIL:ACC:1:"

// PublicationRecord is the fixed binary layout of an accumulator
// export, matching spec.md §6's "{version=1, N, A, g, acc_version,
// signed_at, mother_signature}" and
// sigil-mother/src/accumulator_publish.rs's export shape. N, G, and A
// are stored as fixed ModulusSize-byte big-endian integers.
type PublicationRecord struct {
	Version         uint8
	N               *big.Int
	G               *big.Int
	A               *big.Int
	AccVersion      uint64
	SignedAt        uint64
	MotherSignature [64]byte
}

// signableHash computes the digest the mother signs over: every field
// except the signature itself.
func (p PublicationRecord) signableHash() [32]byte {
	var n, g, a [accumulator.ModulusSize]byte
	p.N.FillBytes(n[:])
	p.G.FillBytes(g[:])
	p.A.FillBytes(a[:])

	var accVersion, signedAt [8]byte
	binary.LittleEndian.PutUint64(accVersion[:], p.AccVersion)
	binary.LittleEndian.PutUint64(signedAt[:], p.SignedAt)

	return curve.SHA256([]byte{p.Version}, n[:], g[:], a[:], accVersion[:], signedAt[:])
}

// Bytes serializes the record to its fixed binary layout.
func (p PublicationRecord) Bytes() []byte {
	out := make([]byte, 1+accumulator.ModulusSize*3+8+8+64)
	off := 0
	out[off] = p.Version
	off++

	var n, g, a [accumulator.ModulusSize]byte
	p.N.FillBytes(n[:])
	p.G.FillBytes(g[:])
	p.A.FillBytes(a[:])
	copy(out[off:], n[:])
	off += accumulator.ModulusSize
	copy(out[off:], g[:])
	off += accumulator.ModulusSize
	copy(out[off:], a[:])
	off += accumulator.ModulusSize

	binary.LittleEndian.PutUint64(out[off:], p.AccVersion)
	off += 8
	binary.LittleEndian.PutUint64(out[off:], p.SignedAt)
	off += 8
	copy(out[off:], p.MotherSignature[:])

	return out
}

// PublicationRecordFromBytes parses the fixed binary layout produced
// by Bytes.
func PublicationRecordFromBytes(b []byte) (PublicationRecord, error) {
	want := 1 + accumulator.ModulusSize*3 + 8 + 8 + 64
	if len(b) != want {
		return PublicationRecord{}, sigilerr.New(sigilerr.InvalidInput, "malformed accumulator publication record length")
	}
	var p PublicationRecord
	off := 0
	p.Version = b[off]
	off++

	p.N = new(big.Int).SetBytes(b[off : off+accumulator.ModulusSize])
	off += accumulator.ModulusSize
	p.G = new(big.Int).SetBytes(b[off : off+accumulator.ModulusSize])
	off += accumulator.ModulusSize
	p.A = new(big.Int).SetBytes(b[off : off+accumulator.ModulusSize])
	off += accumulator.ModulusSize

	p.AccVersion = binary.LittleEndian.Uint64(b[off:])
	off += 8
	p.SignedAt = binary.LittleEndian.Uint64(b[off:])
	off += 8
	copy(p.MotherSignature[:], b[off:off+64])

	return p, nil
}

// PublishAccumulator signs and serializes acc's current state under
// the mother's signing key (its cold master shard scalar), returning
// both the raw record and its SIGIL:ACC:1:<b64> wire encoding,
// matching spec.md §6 and §4.6's "publish a signed (N, g, A, version)
// record" step.
func PublishAccumulator(acc *accumulator.Accumulator, motherScalar *big.Int, signedAt uint64) (PublicationRecord, string, error) {
	rec := PublicationRecord{
		Version:    1,
		N:          acc.N,
		G:          acc.G,
		A:          acc.A,
		AccVersion: acc.Version,
		SignedAt:   signedAt,
	}
	sig, err := signing.Sign(motherScalar, rec.signableHash())
	if err != nil {
		return PublicationRecord{}, "", err
	}
	rec.MotherSignature = sig

	encoded := AccumulatorPublicationPrefix + base64.StdEncoding.EncodeToString(rec.Bytes())
	return rec, encoded, nil
}

// VerifyPublication checks rec's mother signature against motherPubkey,
// matching spec.md §4.6's "tampered modulus => signature on
// publication fails => refuse" failure mode.
func VerifyPublication(rec PublicationRecord, motherPubkey keys.PublicKey) error {
	if !signing.Verify(motherPubkey, rec.signableHash(), rec.MotherSignature) {
		return sigilerr.New(sigilerr.DiskInvalid, "accumulator publication signature does not verify")
	}
	return nil
}

// DecodeAccumulatorPublication parses a SIGIL:ACC:1:<b64> wire string.
func DecodeAccumulatorPublication(wire string) (PublicationRecord, error) {
	rest, ok := strings.CutPrefix(wire, AccumulatorPublicationPrefix)
	if !ok {
		return PublicationRecord{}, sigilerr.New(sigilerr.InvalidInput, "invalid accumulator publication prefix")
	}
	raw, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return PublicationRecord{}, sigilerr.Wrap(sigilerr.InvalidInput, err, "base64 decode accumulator publication")
	}
	return PublicationRecordFromBytes(raw)
}
