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

package accumulator

import (
	"math/big"

	"github.com/sigil-mpc/sigil/sigilerr"
)

// NonMembershipWitness proves, for a still-active agent, that its
// prime does not divide the accumulator's exponent, per spec.md §4.6.
type NonMembershipWitness struct {
	AgentID [32]byte
	U       *big.Int
	D       *big.Int
	Version uint64
}

// IssueWitness computes a non-membership witness for agentID against
// the accumulator's current exponent E (product of every nullified
// agent's prime). Because agentID is assumed active, gcd(p_a, E) = 1;
// the Bezout identity u*p_a + v*E = 1 gives u directly and
// d = g^v mod N, matching spec.md §4.6's witness construction. Returns
// AgentNullified if agentID's own prime already divides E (it should
// not be issued a non-membership proof).
func IssueWitness(acc *Accumulator, agentID [32]byte) (*NonMembershipWitness, error) {
	if acc.IsNullified(agentID) {
		return nil, sigilerr.New(sigilerr.AgentNullified, "cannot issue a non-membership witness for a nullified agent")
	}

	p := ToPrime(agentID)
	e := acc.Exponent()

	gcd := new(big.Int)
	u := new(big.Int)
	v := new(big.Int)
	gcd.GCD(u, v, p, e)

	if gcd.Cmp(big.NewInt(1)) != 0 {
		// p_a divides E despite IsNullified not matching the exact
		// prime on record; treat as a crypto-layer inconsistency
		// rather than silently issuing an unsound witness.
		return nil, sigilerr.New(sigilerr.Crypto, "agent prime is not coprime with the accumulator exponent")
	}

	d := modExp(acc.G, v, acc.N)

	return &NonMembershipWitness{AgentID: agentID, U: u, D: d, Version: acc.Version}, nil
}

// VerifyWitness checks A^u * d^{p_a} == g (mod N) at the witness's
// recorded version against the trusted (n, g, a, version) snapshot a
// daemon holds. A version mismatch is reported separately via
// sigilerr.WitnessStale so callers can distinguish "refresh needed"
// from "cryptographically invalid".
func VerifyWitness(n, g, a *big.Int, version uint64, w *NonMembershipWitness) error {
	if w.Version < version {
		return sigilerr.New(sigilerr.WitnessStale, "witness version trails the current accumulator version")
	}
	if w.Version > version {
		return sigilerr.New(sigilerr.InvalidInput, "witness version is ahead of the trusted accumulator snapshot")
	}

	p := ToPrime(w.AgentID)
	lhs := new(big.Int).Mul(modExp(a, w.U, n), modExp(w.D, p, n))
	lhs.Mod(lhs, n)

	gMod := new(big.Int).Mod(g, n)
	if lhs.Cmp(gMod) != 0 {
		return sigilerr.New(sigilerr.Crypto, "non-membership witness failed to verify")
	}
	return nil
}

// UpdateWitness regenerates a witness for agentID against the current
// accumulator state, matching
// NullificationManager::update_witness's fallback path (the source
// notes an O(1) incremental update exists but ships the O(active)
// regenerate-from-scratch version; this package does the same, since
// nothing in spec.md requires the incremental variant and
// regeneration is already O(1) in the number of *other* nullified
// agents once E is cached, not in the full history).
func UpdateWitness(acc *Accumulator, agentID [32]byte) (*NonMembershipWitness, error) {
	return IssueWitness(acc, agentID)
}
