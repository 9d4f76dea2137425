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

package mother_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-mpc/sigil/agent"
	"github.com/sigil-mpc/sigil/keys"
	"github.com/sigil-mpc/sigil/mother"
	"github.com/sigil-mpc/sigil/sigilerr"
)

func TestAgentRegistryRegisterAndGet(t *testing.T) {
	reg := mother.NewAgentRegistry(smallAccumulator(t))

	id := agent.Id{0x01}
	entry, err := reg.Register(id, "signer-1", 1_700_000_000)
	require.NoError(t, err)
	assert.True(t, entry.CanSign())

	fetched, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, id, fetched.AgentID)
}

func TestAgentRegistryRejectsDuplicateRegistration(t *testing.T) {
	reg := mother.NewAgentRegistry(smallAccumulator(t))
	id := agent.Id{0x01}

	_, err := reg.Register(id, "signer-1", 1_700_000_000)
	require.NoError(t, err)

	_, err = reg.Register(id, "signer-1-again", 1_700_000_001)
	require.Error(t, err)
	assert.Equal(t, sigilerr.AgentAlreadyExists, sigilerr.KindOf(err))
}

func TestAgentRegistryAuthorizeChild(t *testing.T) {
	reg := mother.NewAgentRegistry(smallAccumulator(t))
	id := agent.Id{0x01}
	_, err := reg.Register(id, "signer-1", 1_700_000_000)
	require.NoError(t, err)

	childID := keys.ChildId{0x02}
	require.NoError(t, reg.AuthorizeChild(id, childID))

	entry, err := reg.Get(id)
	require.NoError(t, err)
	assert.True(t, entry.IsChildAuthorized(childID))
}

func TestAgentRegistrySuspendAndReactivate(t *testing.T) {
	reg := mother.NewAgentRegistry(smallAccumulator(t))
	id := agent.Id{0x01}
	_, err := reg.Register(id, "signer-1", 1_700_000_000)
	require.NoError(t, err)

	require.NoError(t, reg.Suspend(id))
	entry, err := reg.Get(id)
	require.NoError(t, err)
	assert.False(t, entry.CanSign())

	require.NoError(t, reg.Reactivate(id))
	entry, err = reg.Get(id)
	require.NoError(t, err)
	assert.True(t, entry.CanSign())
}

func TestAgentRegistryNullifyIsTerminal(t *testing.T) {
	reg := mother.NewAgentRegistry(smallAccumulator(t))
	id := agent.Id{0x01}
	_, err := reg.Register(id, "signer-1", 1_700_000_000)
	require.NoError(t, err)

	require.NoError(t, reg.Nullify(id, 1_700_100_000))

	entry, err := reg.Get(id)
	require.NoError(t, err)
	assert.True(t, entry.IsNullified())

	err = reg.Nullify(id, 1_700_200_000)
	require.Error(t, err)
	assert.Equal(t, sigilerr.AgentNullified, sigilerr.KindOf(err))

	err = reg.Suspend(id)
	require.Error(t, err)
}

func TestAgentRegistryIssueWitnessForActiveAgent(t *testing.T) {
	reg := mother.NewAgentRegistry(smallAccumulator(t))
	id := agent.Id{0x01}
	_, err := reg.Register(id, "signer-1", 1_700_000_000)
	require.NoError(t, err)

	other := agent.Id{0x02}
	_, err = reg.Register(other, "signer-2", 1_700_000_000)
	require.NoError(t, err)
	require.NoError(t, reg.Nullify(other, 1_700_100_000))

	w, err := reg.IssueWitness(id)
	require.NoError(t, err)
	assert.Equal(t, id.Bytes(), w.AgentID)
	assert.Equal(t, reg.Accumulator().Version, w.Version)
}

func TestAgentRegistryIssueWitnessRejectsNullifiedAgent(t *testing.T) {
	reg := mother.NewAgentRegistry(smallAccumulator(t))
	id := agent.Id{0x01}
	_, err := reg.Register(id, "signer-1", 1_700_000_000)
	require.NoError(t, err)
	require.NoError(t, reg.Nullify(id, 1_700_100_000))

	_, err = reg.IssueWitness(id)
	require.Error(t, err)
	assert.Equal(t, sigilerr.AgentNullified, sigilerr.KindOf(err))
}

func TestAgentRegistryStaleAgentsAfterNullification(t *testing.T) {
	reg := mother.NewAgentRegistry(smallAccumulator(t))
	active := agent.Id{0x01}
	toNullify := agent.Id{0x02}
	_, err := reg.Register(active, "signer-1", 1_700_000_000)
	require.NoError(t, err)
	_, err = reg.Register(toNullify, "signer-2", 1_700_000_000)
	require.NoError(t, err)

	_, err = reg.IssueWitness(active)
	require.NoError(t, err)
	assert.Empty(t, reg.StaleAgents())

	require.NoError(t, reg.Nullify(toNullify, 1_700_100_000))
	stale := reg.StaleAgents()
	require.Len(t, stale, 1)
	assert.Equal(t, active, stale[0])

	_, err = reg.RefreshWitness(active)
	require.NoError(t, err)
	assert.Empty(t, reg.StaleAgents())
}
