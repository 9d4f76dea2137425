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
	"encoding/binary"
	"math/big"

	"github.com/sigil-mpc/sigil/curve"
)

// MillerRabinRounds is the number of probabilistic-primality rounds
// ToPrime requires before accepting a candidate, per spec.md §9's
// explicit requirement ("MUST use Miller-Rabin with >= 40 rounds (or
// BPSW)") — this replaces sigil-core/src/agent.rs's is_likely_prime,
// which the spec flags as an insufficient toy check (odd + trial
// division against primes <= 31).
const MillerRabinRounds = 40

// ToPrime deterministically maps a 32-byte agent id to a 256-bit
// probable prime, matching AgentId::to_prime's hash-then-test loop:
// hash the candidate with an incrementing counter, force the
// candidate's top and bottom bits, and accept the first value that
// passes ProbablyPrime (Baillie-PSW after Miller-Rabin, the standard
// library's strongest available primality test).
func ToPrime(agentID [32]byte) *big.Int {
	candidate := agentID[:]
	for counter := uint64(0); ; counter++ {
		var counterBytes [8]byte
		binary.LittleEndian.PutUint64(counterBytes[:], counter)
		h := curve.SHA256(candidate, counterBytes[:])

		primeCandidate := make([]byte, 32)
		copy(primeCandidate, h[:])
		primeCandidate[0] |= 0x80  // ensure 256-bit width
		primeCandidate[31] |= 0x01 // ensure odd

		n := new(big.Int).SetBytes(primeCandidate)
		if n.ProbablyPrime(MillerRabinRounds) {
			return n
		}

		candidate = h[:]
	}
}
