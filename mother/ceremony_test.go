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
	"github.com/sigil-mpc/sigil/disk"
	"github.com/sigil-mpc/sigil/mother"
	"github.com/sigil-mpc/sigil/presig"
	"github.com/sigil-mpc/sigil/sigilerr"
)

// newUnlockedSession initializes a fresh mother session ready for
// ceremonies, mirroring spec.md §8's scenario setup.
func newUnlockedSession(t *testing.T) *mother.Session {
	t.Helper()
	s, err := mother.NewSession(t.TempDir())
	require.NoError(t, err)
	_, err = s.InitializeMaster("ceremony-test-passphrase", 1_700_000_000)
	require.NoError(t, err)
	return s
}

func newAgentMaster(t *testing.T, seed uint64) *agent.MasterShard {
	t.Helper()
	m, err := agent.GenerateMasterShard(seed)
	require.NoError(t, err)
	return m
}

func TestCreateChildProducesSignedDiskAndEncryptedShare(t *testing.T) {
	s := newUnlockedSession(t)
	agentMaster := newAgentMaster(t, 2)

	result, err := s.CreateChild(agentMaster, 4, 1_700_000_100)
	require.NoError(t, err)

	assert.Equal(t, result.ChildID, result.Disk.Header.ChildID)
	assert.Len(t, result.Disk.Presigs, 4)
	assert.NotNil(t, result.EncryptedShard)
	assert.NotEmpty(t, result.Passcode.Reveal())

	motherPubkey, err := s.MotherPublicKey()
	require.NoError(t, err)
	require.NoError(t, result.Disk.Validate(motherPubkey, 1_700_000_200))

	entry, err := s.ChildRegistry.Get(result.ChildID)
	require.NoError(t, err)
	assert.True(t, entry.CanSign())
}

func TestCreateChildAdvancesDerivationIndexAcrossCalls(t *testing.T) {
	s := newUnlockedSession(t)
	agentMaster := newAgentMaster(t, 2)

	first, err := s.CreateChild(agentMaster, 2, 1_700_000_100)
	require.NoError(t, err)
	second, err := s.CreateChild(agentMaster, 2, 1_700_000_200)
	require.NoError(t, err)

	assert.NotEqual(t, first.ChildID, second.ChildID)
	assert.NotEqual(t, first.Disk.Header.Path, second.Disk.Header.Path)
}

func TestCreateChildFailsWhenLocked(t *testing.T) {
	s, err := mother.NewSession(t.TempDir())
	require.NoError(t, err)

	_, err = s.CreateChild(newAgentMaster(t, 1), 2, 1_700_000_000)
	require.Error(t, err)
	assert.Equal(t, sigilerr.InvalidInput, sigilerr.KindOf(err))
}

func TestReconcileApprovesACleanDisk(t *testing.T) {
	s := newUnlockedSession(t)
	agentMaster := newAgentMaster(t, 2)
	created, err := s.CreateChild(agentMaster, 4, 1_700_000_100)
	require.NoError(t, err)

	report, err := s.Reconcile(created.ChildID, created.Disk, 1_700_100_000)
	require.NoError(t, err)
	assert.Equal(t, mother.RefillApproved.String(), report.Recommendation)
	assert.Empty(t, report.Anomalies)

	entry, err := s.ChildRegistry.Get(created.ChildID)
	require.NoError(t, err)
	assert.True(t, entry.CanSign())
	assert.Len(t, entry.ReconciliationHistory, 1)
}

func TestReconcileRecommendsManualReviewOnTamperedHeader(t *testing.T) {
	s := newUnlockedSession(t)
	agentMaster := newAgentMaster(t, 2)
	created, err := s.CreateChild(agentMaster, 4, 1_700_000_100)
	require.NoError(t, err)

	tampered := created.Disk
	tampered.Header.PresigTotal = 9999 // invalidates the mother's signature: a single anomaly

	report, err := s.Reconcile(created.ChildID, tampered, 1_700_100_000)
	require.NoError(t, err)
	assert.Equal(t, mother.ManualReview.String(), report.Recommendation)
	assert.Len(t, report.Anomalies, 1)

	entry, err := s.ChildRegistry.Get(created.ChildID)
	require.NoError(t, err)
	assert.True(t, entry.CanSign(), "a 1-2 anomaly disk is held for manual review, not nullified")
}

func TestReconcileRecommendsManualReviewOnSingleForgedUsageLogEntry(t *testing.T) {
	s := newUnlockedSession(t)
	agentMaster := newAgentMaster(t, 2)
	created, err := s.CreateChild(agentMaster, 4, 1_700_000_100)
	require.NoError(t, err)

	tampered := created.Disk
	tampered.UsageLog.Entries = []disk.UsageLogEntry{{
		PresigIndex: 0,
		Timestamp:   1_700_050_000,
		// Signature left zeroed: does not verify against the child's
		// combined public key.
	}}

	report, err := s.Reconcile(created.ChildID, tampered, 1_700_100_000)
	require.NoError(t, err)
	assert.Equal(t, mother.ManualReview.String(), report.Recommendation)
}

// severelyTamperedDisk marks three presig slots Used with forged,
// unverifiable usage log entries, pushing the reconciliation anomaly
// count past the manual-review threshold.
func severelyTamperedDisk(t *testing.T, created *mother.CreateChildResult) disk.Format {
	t.Helper()
	tampered := created.Disk
	tampered.Presigs = append([]presig.ColdShare(nil), created.Disk.Presigs...)
	tampered.Header.PresigUsed = 3

	entries := make([]disk.UsageLogEntry, 3)
	for i := 0; i < 3; i++ {
		tampered.Presigs[i].Status = presig.Used
		entries[i] = disk.UsageLogEntry{
			PresigIndex: uint32(i),
			Timestamp:   1_700_050_000 + uint64(i),
			// Signature left zeroed: none of these verify against the
			// child's combined public key.
		}
	}
	tampered.UsageLog.Entries = entries
	return tampered
}

func TestReconcileRecommendsNullifyOnManyForgedUsageLogEntries(t *testing.T) {
	s := newUnlockedSession(t)
	agentMaster := newAgentMaster(t, 2)
	created, err := s.CreateChild(agentMaster, 4, 1_700_000_100)
	require.NoError(t, err)

	tampered := severelyTamperedDisk(t, created)

	report, err := s.Reconcile(created.ChildID, tampered, 1_700_100_000)
	require.NoError(t, err)
	assert.Equal(t, mother.RecommendNullify.String(), report.Recommendation)
	assert.True(t, len(report.Anomalies) > 2)

	entry, err := s.ChildRegistry.Get(created.ChildID)
	require.NoError(t, err)
	assert.True(t, entry.IsNullified())
}

func TestReconcileRejectsAlreadyNullifiedChild(t *testing.T) {
	s := newUnlockedSession(t)
	agentMaster := newAgentMaster(t, 2)
	created, err := s.CreateChild(agentMaster, 4, 1_700_000_100)
	require.NoError(t, err)

	tampered := severelyTamperedDisk(t, created)
	_, err = s.Reconcile(created.ChildID, tampered, 1_700_100_000)
	require.NoError(t, err)

	_, err = s.Reconcile(created.ChildID, created.Disk, 1_700_200_000)
	require.Error(t, err)
	assert.Equal(t, sigilerr.ChildNullified, sigilerr.KindOf(err))
}

func TestRefillRederivesFromDiskHeaderPathAndResetsWindow(t *testing.T) {
	s := newUnlockedSession(t)
	agentMaster := newAgentMaster(t, 2)
	created, err := s.CreateChild(agentMaster, 4, 1_700_000_100)
	require.NoError(t, err)

	_, err = s.Reconcile(created.ChildID, created.Disk, 1_700_100_000)
	require.NoError(t, err)

	refilled, err := s.Refill(agentMaster, created.Disk, 8, 1_700_100_500)
	require.NoError(t, err)

	assert.Equal(t, created.ChildID, refilled.Disk.Header.ChildID)
	assert.Equal(t, created.Disk.Header.Path, refilled.Disk.Header.Path)
	assert.Equal(t, uint32(8), refilled.Disk.Header.PresigTotal)
	assert.Len(t, refilled.Disk.Presigs, 8)
	assert.Zero(t, refilled.Disk.Header.Expiry.UsesSinceReconcile)

	motherPubkey, err := s.MotherPublicKey()
	require.NoError(t, err)
	require.NoError(t, refilled.Disk.Validate(motherPubkey, 1_700_100_600))

	entry, err := s.ChildRegistry.Get(created.ChildID)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), entry.RefillCount)
}

func TestRefillRejectsMismatchedAgentCollaborator(t *testing.T) {
	s := newUnlockedSession(t)
	agentMaster := newAgentMaster(t, 2)
	created, err := s.CreateChild(agentMaster, 4, 1_700_000_100)
	require.NoError(t, err)

	wrongAgent := newAgentMaster(t, 99)
	_, err = s.Refill(wrongAgent, created.Disk, 4, 1_700_100_500)
	require.Error(t, err)
	assert.Equal(t, sigilerr.Crypto, sigilerr.KindOf(err))
}

func TestRefillRejectsNullifiedChild(t *testing.T) {
	s := newUnlockedSession(t)
	agentMaster := newAgentMaster(t, 2)
	created, err := s.CreateChild(agentMaster, 4, 1_700_000_100)
	require.NoError(t, err)

	tampered := severelyTamperedDisk(t, created)
	_, err = s.Reconcile(created.ChildID, tampered, 1_700_100_000)
	require.NoError(t, err)

	_, err = s.Refill(agentMaster, created.Disk, 4, 1_700_200_000)
	require.Error(t, err)
	assert.Equal(t, sigilerr.ChildNullified, sigilerr.KindOf(err))
}

func TestNullifyAgentPublishesVerifiableAccumulatorRecord(t *testing.T) {
	s := newUnlockedSession(t)

	agentID := agent.Id{0xaa}
	_, err := s.AgentRegistry.Register(agentID, "ops-agent-1", 1_700_000_000)
	require.NoError(t, err)

	rec, wire, err := s.NullifyAgent(agentID, 1_700_300_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.AccVersion)
	assert.NotEmpty(t, wire)

	motherPubkey, err := s.MotherPublicKey()
	require.NoError(t, err)
	require.NoError(t, mother.VerifyPublication(rec, motherPubkey))

	entry, err := s.AgentRegistry.Get(agentID)
	require.NoError(t, err)
	assert.True(t, entry.IsNullified())

	decoded, err := mother.DecodeAccumulatorPublication(wire)
	require.NoError(t, err)
	assert.Equal(t, rec.A, decoded.A)
}

func TestNullifyAgentFailsForUnregisteredAgent(t *testing.T) {
	s := newUnlockedSession(t)

	_, _, err := s.NullifyAgent(agent.Id{0xbb}, 1_700_300_000)
	require.Error(t, err)
	assert.Equal(t, sigilerr.NotFound, sigilerr.KindOf(err))
}
