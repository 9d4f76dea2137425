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

// Package signing completes a 2-of-2 MPC ECDSA signature from a cold
// presignature share and an agent presignature share, per spec.md
// §4.3. The completion routine is pure and non-blocking; callers (the
// disk package) own marking the presignature used and persisting the
// result.
package signing

import (
	"bytes"
	"math/big"

	logging "github.com/ipfs/go-log"

	"github.com/sigil-mpc/sigil/curve"
	"github.com/sigil-mpc/sigil/keys"
	"github.com/sigil-mpc/sigil/presig"
	"github.com/sigil-mpc/sigil/sigilerr"
)

var log = logging.Logger("sigil/signing")

// Signature is a 64-byte r||s ECDSA signature.
type Signature [64]byte

func (s Signature) R() []byte { return s[:32] }
func (s Signature) S() []byte { return s[32:] }

// Complete runs §4.3 steps 1-7: validates the two shares share R,
// reduces the message digest, sums the nonce and chi shares, computes
// s, normalizes to low-S, and self-verifies against the child public
// key before returning.
func Complete(cold presig.ColdShare, agent presig.AgentShare, childPubkey keys.PublicKey, messageHash [32]byte) (Signature, error) {
	if !bytes.Equal(cold.R[:], agent.R[:]) {
		return Signature{}, sigilerr.New(sigilerr.PresigMismatch, "cold and agent presignature R values differ")
	}

	r, err := curve.XFromCompressed(cold.R[:])
	if err != nil {
		return Signature{}, sigilerr.Wrap(sigilerr.Crypto, err, "recover r from nonce point")
	}
	if r.Sign() == 0 {
		return Signature{}, sigilerr.New(sigilerr.NonceIsZero, "r reduced to zero")
	}

	kCold := new(big.Int).SetBytes(cold.KCold[:])
	kAgent := new(big.Int).SetBytes(agent.KAgent[:])
	k := new(big.Int).Add(kCold, kAgent)
	k.Mod(k, curve.N())
	if k.Sign() == 0 {
		return Signature{}, sigilerr.New(sigilerr.NonceIsZero, "k reduced to zero")
	}
	kInv := new(big.Int).ModInverse(k, curve.N())
	if kInv == nil {
		return Signature{}, sigilerr.New(sigilerr.NonceIsZero, "k has no modular inverse")
	}

	chiCold := new(big.Int).SetBytes(cold.ChiCold[:])
	chiAgent := new(big.Int).SetBytes(agent.ChiAgent[:])
	chi := new(big.Int).Add(chiCold, chiAgent)
	chi.Mod(chi, curve.N())

	z := new(big.Int).SetBytes(messageHash[:])
	z.Mod(z, curve.N())

	// s = k^-1 * (z + r*chi) mod n
	rChi := new(big.Int).Mul(r, chi)
	inner := new(big.Int).Add(z, rChi)
	inner.Mod(inner, curve.N())
	s := new(big.Int).Mul(kInv, inner)
	s.Mod(s, curve.N())

	s = lowS(s)

	var sig Signature
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])

	if !Verify(childPubkey, messageHash, sig) {
		log.Errorw("signature failed self-verification", "childPubkey", childPubkey.Hex())
		return Signature{}, sigilerr.New(sigilerr.SelfVerificationFailed, "produced signature did not verify against child public key")
	}

	return sig, nil
}

// lowS returns s if s <= n/2, else n-s, per BIP-62.
func lowS(s *big.Int) *big.Int {
	half := new(big.Int).Rsh(curve.N(), 1)
	if s.Cmp(half) > 0 {
		return new(big.Int).Sub(curve.N(), s)
	}
	return s
}

// Sign produces a standard single-key ECDSA signature over messageHash
// using privateScalar, with the nonce derived deterministically via
// RFC 6979 rather than drawn from crypto/rand. This is the mother's own
// signing operation (header signatures, accumulator export signatures)
// and is unrelated to the 2-of-2 presignature completion path above.
func Sign(privateScalar *big.Int, messageHash [32]byte) (Signature, error) {
	n := curve.N()
	z := new(big.Int).SetBytes(messageHash[:])
	z.Mod(z, n)

	for attempt := 0; attempt < 16; attempt++ {
		k := curve.RFC6979Nonce(privateScalar, messageHash)
		if attempt > 0 {
			// Vanishingly unlikely; perturb deterministically if a
			// prior attempt produced an unusable r or s.
			offset := big.NewInt(int64(attempt))
			k = new(big.Int).Add(k, offset)
			k.Mod(k, n)
		}
		if k.Sign() == 0 {
			continue
		}

		point := curve.ScalarBaseMult(k)
		r, err := curve.XFromCompressed(point)
		if err != nil {
			continue
		}
		if r.Sign() == 0 {
			continue
		}

		kInv := new(big.Int).ModInverse(k, n)
		if kInv == nil {
			continue
		}

		rPriv := new(big.Int).Mul(r, privateScalar)
		inner := new(big.Int).Add(z, rPriv)
		inner.Mod(inner, n)
		s := new(big.Int).Mul(kInv, inner)
		s.Mod(s, n)
		if s.Sign() == 0 {
			continue
		}
		s = lowS(s)

		var sig Signature
		r.FillBytes(sig[:32])
		s.FillBytes(sig[32:])
		return sig, nil
	}

	return Signature{}, sigilerr.New(sigilerr.Crypto, "failed to produce a valid ECDSA signature after repeated attempts")
}

// Verify performs standard ECDSA verification of sig over messageHash
// against pubkey.
func Verify(pubkey keys.PublicKey, messageHash [32]byte, sig Signature) bool {
	r := new(big.Int).SetBytes(sig.R())
	s := new(big.Int).SetBytes(sig.S())
	if r.Sign() <= 0 || s.Sign() <= 0 {
		return false
	}
	if r.Cmp(curve.N()) >= 0 || s.Cmp(curve.N()) >= 0 {
		return false
	}

	z := new(big.Int).SetBytes(messageHash[:])
	z.Mod(z, curve.N())

	sInv := new(big.Int).ModInverse(s, curve.N())
	if sInv == nil {
		return false
	}
	u1 := new(big.Int).Mul(z, sInv)
	u1.Mod(u1, curve.N())
	u2 := new(big.Int).Mul(r, sInv)
	u2.Mod(u2, curve.N())

	p1 := curve.ScalarBaseMult(u1)
	p2, err := curve.ScalarMult(pubkey.Bytes(), u2)
	if err != nil {
		return false
	}
	sum, err := curve.AddCompressed(p1, p2)
	if err != nil {
		return false
	}
	x, err := curve.XFromCompressed(sum)
	if err != nil {
		return false
	}
	return x.Cmp(r) == 0
}
