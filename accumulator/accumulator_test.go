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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-mpc/sigil/sigilerr"
)

// smallModulus builds a tiny, hand-verifiable RSA-style modulus from
// two small known primes (10007, 10009) so the Bezout/witness
// arithmetic can be checked by eye before trusting it at 2048-bit
// scale.
func smallModulus(t *testing.T) (n, g *big.Int) {
	t.Helper()
	n = big.NewInt(10007 * 10009)
	g = big.NewInt(2)
	return n, g
}

func TestNewRejectsBadParams(t *testing.T) {
	n, g := smallModulus(t)

	_, err := New(big.NewInt(0), g)
	require.Error(t, err)
	assert.Equal(t, sigilerr.InvalidInput, sigilerr.KindOf(err))

	_, err = New(n, big.NewInt(0))
	require.Error(t, err)

	_, err = New(n, new(big.Int).Add(n, big.NewInt(1)))
	require.Error(t, err)
}

func TestAddUpdatesVersionAndMembership(t *testing.T) {
	n, g := smallModulus(t)
	acc, err := New(n, g)
	require.NoError(t, err)

	var agentA, agentB [32]byte
	agentA[0] = 0x01
	agentB[0] = 0x02

	assert.False(t, acc.IsNullified(agentA))

	acc.Add(agentA)
	assert.Equal(t, uint64(1), acc.Version)
	assert.True(t, acc.IsNullified(agentA))
	assert.False(t, acc.IsNullified(agentB))

	acc.Add(agentB)
	assert.Equal(t, uint64(2), acc.Version)
	assert.True(t, acc.IsNullified(agentB))
}

func TestFromStateReconstructsExponent(t *testing.T) {
	n, g := smallModulus(t)
	acc, err := New(n, g)
	require.NoError(t, err)

	var agentA, agentB [32]byte
	agentA[0] = 0x01
	agentB[0] = 0x02
	acc.Add(agentA)
	acc.Add(agentB)

	restored := FromState(n, g, acc.A, acc.Version, [][32]byte{agentA, agentB})
	assert.Equal(t, acc.Exponent(), restored.Exponent())
	assert.True(t, restored.IsNullified(agentA))
	assert.True(t, restored.IsNullified(agentB))
}

func TestModExpNegativeExponent(t *testing.T) {
	n := big.NewInt(10007 * 10009)
	base := big.NewInt(7)
	inv := new(big.Int).ModInverse(base, n)
	require.NotNil(t, inv)

	got := modExp(base, big.NewInt(-1), n)
	assert.Equal(t, inv, got)
}
