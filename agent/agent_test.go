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

package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-mpc/sigil/keys"
)

func TestIdHexRoundTrip(t *testing.T) {
	shard, err := GenerateMasterShard(1000)
	require.NoError(t, err)
	pk, err := keys.PublicKeyFromBytes(curvePoint(t, shard))
	require.NoError(t, err)

	id := IdFromPublicKey(pk)
	recovered, err := IdFromHex(id.Hex())
	require.NoError(t, err)
	assert.Equal(t, id, recovered)
	assert.Len(t, id.Short(), 8)
}

func curvePoint(t *testing.T, shard *MasterShard) []byte {
	t.Helper()
	return shard.PublicPoint()
}

func TestRegistryEntryChildAuthorization(t *testing.T) {
	entry := NewRegistryEntry(Id{0x01}, "test-agent", 1000)

	childID := keys.ChildId{0x02}
	assert.False(t, entry.IsChildAuthorized(childID))

	entry.AuthorizeChild(childID)
	assert.True(t, entry.IsChildAuthorized(childID))

	entry.AuthorizeChild(childID) // idempotent
	assert.Len(t, entry.AuthorizedChildren, 1)

	entry.RevokeChild(childID)
	assert.False(t, entry.IsChildAuthorized(childID))
}

func TestRegistryEntrySuspendReactivate(t *testing.T) {
	entry := NewRegistryEntry(Id{0x01}, "test-agent", 1000)
	assert.True(t, entry.CanSign())

	entry.Suspend()
	assert.False(t, entry.CanSign())
	assert.True(t, entry.CanReactivate())

	assert.True(t, entry.Reactivate())
	assert.True(t, entry.CanSign())
}

func TestRegistryEntryNullify(t *testing.T) {
	entry := NewRegistryEntry(Id{0x01}, "test-agent", 1000)
	entry.Nullify(2000, 5)

	assert.True(t, entry.IsNullified())
	assert.False(t, entry.CanSign())
	assert.False(t, entry.CanReactivate())
	assert.Equal(t, uint64(2000), entry.Nullification.Timestamp)
	assert.Equal(t, uint64(5), entry.Nullification.NullifiedAtVersion)

	// Suspend/Reactivate must not resurrect a nullified agent.
	entry.Suspend()
	assert.True(t, entry.IsNullified())
	assert.False(t, entry.Reactivate())
}

func TestRegistryEntryRecordSignature(t *testing.T) {
	entry := NewRegistryEntry(Id{0x01}, "test-agent", 1000)
	assert.False(t, entry.HasLastActivity)

	entry.RecordSignature(5000)
	assert.Equal(t, uint64(1), entry.TotalSignatures)
	assert.True(t, entry.HasLastActivity)
	assert.Equal(t, uint64(5000), entry.LastActivity)

	entry.RecordSignature(6000)
	assert.Equal(t, uint64(2), entry.TotalSignatures)
	assert.Equal(t, uint64(6000), entry.LastActivity)
}
