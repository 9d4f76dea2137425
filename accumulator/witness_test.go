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

func TestIssueAndVerifyWitnessForActiveAgent(t *testing.T) {
	n, g := smallModulus(t)
	acc, err := New(n, g)
	require.NoError(t, err)

	var nullified, active [32]byte
	nullified[0] = 0x01
	active[0] = 0x02
	acc.Add(nullified)

	w, err := IssueWitness(acc, active)
	require.NoError(t, err)
	assert.Equal(t, acc.Version, w.Version)

	err = VerifyWitness(acc.N, acc.G, acc.A, acc.Version, w)
	assert.NoError(t, err)
}

func TestIssueWitnessRejectsNullifiedAgent(t *testing.T) {
	n, g := smallModulus(t)
	acc, err := New(n, g)
	require.NoError(t, err)

	var agent [32]byte
	agent[0] = 0x03
	acc.Add(agent)

	_, err = IssueWitness(acc, agent)
	require.Error(t, err)
	assert.Equal(t, sigilerr.AgentNullified, sigilerr.KindOf(err))
}

func TestVerifyWitnessDetectsStaleVersion(t *testing.T) {
	n, g := smallModulus(t)
	acc, err := New(n, g)
	require.NoError(t, err)

	var agent, other [32]byte
	agent[0] = 0x04
	other[0] = 0x05

	w, err := IssueWitness(acc, agent)
	require.NoError(t, err)

	acc.Add(other)

	err = VerifyWitness(acc.N, acc.G, acc.A, acc.Version, w)
	require.Error(t, err)
	assert.Equal(t, sigilerr.WitnessStale, sigilerr.KindOf(err))
}

func TestUpdateWitnessTracksNewVersion(t *testing.T) {
	n, g := smallModulus(t)
	acc, err := New(n, g)
	require.NoError(t, err)

	var agent, other [32]byte
	agent[0] = 0x06
	other[0] = 0x07

	_, err = IssueWitness(acc, agent)
	require.NoError(t, err)

	acc.Add(other)

	refreshed, err := UpdateWitness(acc, agent)
	require.NoError(t, err)
	assert.Equal(t, acc.Version, refreshed.Version)

	err = VerifyWitness(acc.N, acc.G, acc.A, acc.Version, refreshed)
	assert.NoError(t, err)
}

func TestVerifyWitnessRejectsTamperedProof(t *testing.T) {
	n, g := smallModulus(t)
	acc, err := New(n, g)
	require.NoError(t, err)

	var nullified, active [32]byte
	nullified[0] = 0x08
	active[0] = 0x09
	acc.Add(nullified)

	w, err := IssueWitness(acc, active)
	require.NoError(t, err)

	w.D.Add(w.D, big.NewInt(1))

	err = VerifyWitness(acc.N, acc.G, acc.A, acc.Version, w)
	require.Error(t, err)
	assert.Equal(t, sigilerr.Crypto, sigilerr.KindOf(err))
}
