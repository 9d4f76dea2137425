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

// Package accumulator implements the RSA dynamic accumulator used to
// nullify agents (spec.md §4.6): a constant-size commitment to a set
// of primes supporting O(1) add and O(1) non-membership witness
// verification. Grounded on sigil-mother/src/nullification.rs and
// sigil-mother/src/agent_registry.rs for the manager/witness-cache
// shape, but with real math/big arithmetic throughout in place of
// those files' explicit SHA-256-hash Bezout placeholders.
package accumulator

import (
	"math/big"

	logging "github.com/ipfs/go-log"

	"github.com/sigil-mpc/sigil/sigilerr"
)

var log = logging.Logger("sigil/accumulator")

// ModulusSize is the fixed byte width of the accumulator's RSA modulus
// (2048-bit), matching the original source's RSA_MODULUS_SIZE.
const ModulusSize = 256

// Accumulator is the mother's current RSA dynamic accumulator state:
// A = g^E mod N where E is the product of every nullified agent's
// prime.
type Accumulator struct {
	N       *big.Int
	G       *big.Int
	A       *big.Int
	Version uint64

	// factors holds every prime folded into the exponent so far, kept
	// to support witness issuance for still-active agents (E in
	// spec.md §4.6 is the product of these).
	factors []*big.Int
}

// New creates a fresh accumulator over modulus n with generator g; the
// initial value is g itself (the empty product, version 0, no agent
// yet nullified).
func New(n, g *big.Int) (*Accumulator, error) {
	if err := validateModulusParams(n, g); err != nil {
		return nil, err
	}
	return &Accumulator{
		N:       new(big.Int).Set(n),
		G:       new(big.Int).Set(g),
		A:       new(big.Int).Set(g),
		Version: 0,
	}, nil
}

// FromState reconstructs an accumulator from its persisted value and
// the set of previously nullified agent ids, recomputing the exponent
// factors the same way NullificationManager::from_accumulator does.
func FromState(n, g, a *big.Int, version uint64, nullifiedAgentIDs [][32]byte) *Accumulator {
	acc := &Accumulator{N: new(big.Int).Set(n), G: new(big.Int).Set(g), A: new(big.Int).Set(a), Version: version}
	for _, id := range nullifiedAgentIDs {
		acc.factors = append(acc.factors, ToPrime(id))
	}
	return acc
}

// Exponent returns the product of every nullified agent's prime, E in
// spec.md §4.6.
func (acc *Accumulator) Exponent() *big.Int {
	e := big.NewInt(1)
	for _, p := range acc.factors {
		e.Mul(e, p)
	}
	return e
}

// Add folds agentID's prime into the accumulator's exponent:
// A <- A^p mod N, incrementing the version. Returns the prime so
// callers can track it (e.g. the child registry's
// last_valid_presig_index bookkeeping is independent, but agent
// registries key witness caches on this same prime).
func (acc *Accumulator) Add(agentID [32]byte) *big.Int {
	p := ToPrime(agentID)
	acc.A = modExp(acc.A, p, acc.N)
	acc.Version++
	acc.factors = append(acc.factors, p)
	log.Infow("accumulator add", "version", acc.Version)
	return p
}

// IsNullified reports whether agentID's prime has already been folded
// into the exponent.
func (acc *Accumulator) IsNullified(agentID [32]byte) bool {
	p := ToPrime(agentID)
	for _, f := range acc.factors {
		if f.Cmp(p) == 0 {
			return true
		}
	}
	return false
}

// modExp computes base**exp mod m, supporting a negative exponent by
// first inverting base mod m. big.Int.Exp's own handling of negative
// exponents varies across stdlib versions, so this is implemented
// explicitly rather than relied upon.
func modExp(base, exp, m *big.Int) *big.Int {
	if exp.Sign() >= 0 {
		return new(big.Int).Exp(base, exp, m)
	}
	inv := new(big.Int).ModInverse(base, m)
	if inv == nil {
		// Not invertible; per spec.md this should not occur for a
		// prime coprime to N, but callers need a defined result
		// rather than a panic deep in a crypto primitive.
		return big.NewInt(0)
	}
	negExp := new(big.Int).Neg(exp)
	return new(big.Int).Exp(inv, negExp, m)
}

// validateModulusParams performs basic sanity checks on an
// accumulator's modulus and generator at construction time.
func validateModulusParams(n, g *big.Int) error {
	if n == nil || n.Sign() <= 0 {
		return sigilerr.New(sigilerr.InvalidInput, "accumulator modulus must be positive")
	}
	if g == nil || g.Sign() <= 0 || g.Cmp(n) >= 0 {
		return sigilerr.New(sigilerr.InvalidInput, "accumulator generator must be in [1, n)")
	}
	return nil
}
