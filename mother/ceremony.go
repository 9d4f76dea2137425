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
	"encoding/json"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/sigil-mpc/sigil/agent"
	"github.com/sigil-mpc/sigil/child"
	"github.com/sigil-mpc/sigil/derive"
	"github.com/sigil-mpc/sigil/disk"
	"github.com/sigil-mpc/sigil/keys"
	"github.com/sigil-mpc/sigil/presig"
	"github.com/sigil-mpc/sigil/shard"
	"github.com/sigil-mpc/sigil/signing"
	"github.com/sigil-mpc/sigil/sigilerr"
)

// CreateChildResult is everything a create-child ceremony hands back:
// the freshly built disk image, the encrypted package for the agent's
// half, and the child's identity, matching spec.md §6's create_child
// operation.
type CreateChildResult struct {
	ChildID        keys.ChildId
	ChildPubkey    keys.PublicKey
	Disk           disk.Format
	DiskBytes      []byte
	EncryptedShard *shard.EncryptedAgentShard
	Passcode       shard.Passcode
}

// CreateChild runs spec.md §4.1's child-creation ceremony: derive both
// halves of the child key from the mother's and the agent's master
// shards at the next path index, combine the public key, generate a
// presignature batch, build and sign the disk header, register the
// child, and seal the agent's half for transport. agentMaster is the
// agent's collaborator input (the counterpart of s.master) — grounded
// on sigil-mother/src/ceremony.rs::CreateChildCeremony, but with the
// original's SHA256 "agent_child_shard" placeholder replaced by a real
// second collaborator and a real ECDSA header signature in place of
// its truncated-hash placeholder.
func (s *Session) CreateChild(agentMaster *agent.MasterShard, presigCount int, createdAt uint64) (*CreateChildResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.master == nil {
		return nil, sigilerr.New(sigilerr.InvalidInput, "session is locked")
	}

	path := derive.EthereumHardened(s.nextChildIndex)

	coldChild, err := derive.DeriveChildShard(s.master, path)
	if err != nil {
		return nil, err
	}
	defer coldChild.Zeroize()

	agentChild, err := derive.DeriveChildShardFromSecret(agentMaster.Secret, path)
	if err != nil {
		return nil, err
	}
	defer agentChild.Zeroize()

	childPubkey, err := keys.CombinePublicPoints(coldChild.PublicPoint(), agentChild.PublicPoint())
	if err != nil {
		return nil, err
	}
	childID := keys.ChildIdFromPublicKey(childPubkey)

	pairs, err := presig.GenerateBatch(coldChild, agentChild, presigCount)
	if err != nil {
		return nil, err
	}
	coldShares, agentShares := presig.SplitShares(pairs)

	expiry := disk.Expiry{
		ExpiresAt:              createdAt + s.presigValidityDays*SecondsPerDay,
		ReconciliationDeadline: createdAt + s.reconciliationDeadlineDays*SecondsPerDay,
		MaxUsesBeforeReconcile: s.maxUsesBeforeReconcile,
	}
	header := disk.NewHeader(childID, childPubkey, path, uint32(presigCount), expiry, createdAt)

	sig, err := signing.Sign(s.master.Scalar(), header.HashForSigning(disk.PresigTableCommitment(coldShares)))
	if err != nil {
		return nil, err
	}
	header.MotherSignature = sig

	format := disk.Format{Header: header, Presigs: coldShares}

	if _, err := s.ChildRegistry.Register(childID, path.String(), createdAt); err != nil {
		return nil, err
	}
	s.nextChildIndex++

	if err := s.persistAll(); err != nil {
		return nil, err
	}

	shardData := &shard.AgentShardData{
		ChildID:        childID.Hex(),
		PresigShares:   agentShares,
		CreatedAt:      createdAt,
		DerivationPath: path.String(),
	}
	encrypted, passcode, err := shard.Encrypt(shardData)
	if err != nil {
		return nil, err
	}

	s.logger.Info("child created",
		zap.String("child_id", childID.Hex()),
		zap.String("path", path.String()),
		zap.Int("presig_count", presigCount),
	)

	return &CreateChildResult{
		ChildID:        childID,
		ChildPubkey:    childPubkey,
		Disk:           format,
		DiskBytes:      format.Bytes(),
		EncryptedShard: encrypted,
		Passcode:       passcode,
	}, nil
}

// RecommendedAction is a reconciliation ceremony's verdict on what
// should happen to the child disk next, per spec.md §4.5.
type RecommendedAction int

const (
	RefillApproved RecommendedAction = iota
	ManualReview
	RecommendNullify
)

func (a RecommendedAction) String() string {
	switch a {
	case RefillApproved:
		return "RefillApproved"
	case ManualReview:
		return "ManualReview"
	case RecommendNullify:
		return "RecommendNullify"
	default:
		return "Unknown"
	}
}

// ReconciliationReport is the structured outcome of a reconciliation
// pass, persisted alongside the mother's other state per
// sigil-mother/src/ceremony.rs::save_reconciliation_log.
type ReconciliationReport struct {
	ChildID             string   `json:"child_id"`
	Timestamp           uint64   `json:"timestamp"`
	SignaturesSinceLast uint32   `json:"signatures_since_last"`
	Anomalies           []string `json:"anomalies"`
	Recommendation      string   `json:"recommendation"`
}

// Reconcile runs spec.md §4.5's reconciliation ceremony: re-verify the
// mother's own signature and the disk's internal invariants, verify
// every usage-log entry's signature against the child's combined
// public key, check log timestamps are monotonic, then classify the
// outcome. Anomalies are aggregated with go-multierror rather than
// stopping at the first one, since more than one class can fire in a
// single pass. Grounded on sigil-mother/src/ceremony.rs::
// ReconcileCeremony, replacing its stubbed per-entry check with real
// signing.Verify calls.
func (s *Session) Reconcile(childID keys.ChildId, image disk.Format, now uint64) (*ReconciliationReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.master == nil {
		return nil, sigilerr.New(sigilerr.InvalidInput, "session is locked")
	}

	entry, err := s.ChildRegistry.Get(childID)
	if err != nil {
		return nil, err
	}
	if entry.IsNullified() {
		return nil, sigilerr.New(sigilerr.ChildNullified, childID.Hex())
	}

	motherPubkey, err := keys.PublicKeyFromBytes(s.master.PublicPoint())
	if err != nil {
		return nil, err
	}

	var anomalies *multierror.Error

	if image.Header.ChildID != childID {
		anomalies = multierror.Append(anomalies, sigilerr.New(sigilerr.DiskInvalid, "disk header child id does not match requested child"))
	}
	// Structural checks only: a disk returned because its expiry or use
	// budget ran out is in exactly the state reconciliation exists for.
	if err := image.ValidateStructure(motherPubkey); err != nil {
		anomalies = multierror.Append(anomalies, err)
	}

	var lastTimestamp uint64
	for i, e := range image.UsageLog.Entries {
		var sig signing.Signature
		copy(sig[:], e.Signature[:])
		if !signing.Verify(image.Header.ChildPubkey, e.MessageHash, sig) {
			anomalies = multierror.Append(anomalies, sigilerr.New(sigilerr.SelfVerificationFailed, "usage log entry signature does not verify"))
		}
		if i > 0 && e.Timestamp < lastTimestamp {
			anomalies = multierror.Append(anomalies, sigilerr.New(sigilerr.DiskInvalid, "usage log timestamps are not monotonically increasing"))
		}
		if e.Timestamp < image.Header.CreatedAt || e.Timestamp > now {
			anomalies = multierror.Append(anomalies, sigilerr.New(sigilerr.DiskInvalid, "usage log timestamp falls outside the disk's lifetime"))
		}
		lastTimestamp = e.Timestamp
	}

	var anomalyStrings []string
	if anomalies != nil {
		for _, e := range anomalies.Errors {
			anomalyStrings = append(anomalyStrings, e.Error())
		}
	}

	// §4.5: 0 anomalies approves the refill outright, 1-2 holds for
	// manual review, 3 or more recommends nullifying the child.
	var recommendation RecommendedAction
	switch {
	case len(anomalyStrings) == 0:
		recommendation = RefillApproved
	case len(anomalyStrings) <= 2:
		recommendation = ManualReview
	default:
		recommendation = RecommendNullify
	}

	signaturesSinceLast := image.Header.Expiry.UsesSinceReconcile

	switch recommendation {
	case RefillApproved:
		if err := s.ChildRegistry.RecordReconciliation(childID, now, signaturesSinceLast); err != nil {
			return nil, err
		}
	case RecommendNullify:
		if err := s.ChildRegistry.Nullify(childID, child.ReconciliationAnomaly, now, image.Header.PresigUsed); err != nil {
			return nil, err
		}
	}

	if err := s.storage.saveChildRegistry(s.ChildRegistry); err != nil {
		return nil, err
	}

	report := &ReconciliationReport{
		ChildID:             childID.Hex(),
		Timestamp:           now,
		SignaturesSinceLast: signaturesSinceLast,
		Anomalies:           anomalyStrings,
		Recommendation:      recommendation.String(),
	}
	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, sigilerr.Wrap(sigilerr.Storage, err, "marshal reconciliation report")
	}
	if err := s.storage.saveReconciliationLog(childID.Short(), now, reportJSON); err != nil {
		return nil, err
	}

	s.logger.Info("reconciliation complete",
		zap.String("child_id", childID.Hex()),
		zap.String("recommendation", recommendation.String()),
		zap.Int("anomaly_count", len(anomalyStrings)),
	)

	return report, nil
}

// RefillResult is what a successful refill ceremony produces: a
// rebuilt disk image and a fresh encrypted package for the agent's
// half, matching spec.md §4.5's refill step.
type RefillResult struct {
	Disk           disk.Format
	DiskBytes      []byte
	EncryptedShard *shard.EncryptedAgentShard
	Passcode       shard.Passcode
}

// Refill runs spec.md §4.5's refill ceremony: only valid after a
// reconciliation recommended RefillApproved. The caller passes the
// child's current disk image (it must already have one, to have
// completed a reconciliation pass against it); both child shards are
// re-derived from the disk header's own structured Path rather than
// attempting to reconstruct one from the registry's display-string
// derivation path. Refill then regenerates a full presignature batch,
// resets the disk's mutable counters and reconciliation window, and
// re-signs the header. Grounded on
// sigil-mother/src/ceremony.rs::RefillCeremony.
func (s *Session) Refill(agentMaster *agent.MasterShard, image disk.Format, newPresigCount int, now uint64) (*RefillResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.master == nil {
		return nil, sigilerr.New(sigilerr.InvalidInput, "session is locked")
	}

	childID := image.Header.ChildID
	path := image.Header.Path

	entry, err := s.ChildRegistry.Get(childID)
	if err != nil {
		return nil, err
	}
	if !entry.CanSign() {
		return nil, sigilerr.New(sigilerr.ChildNullified, "child is not active; refill requires an active, reconciled child")
	}

	coldChild, err := derive.DeriveChildShard(s.master, path)
	if err != nil {
		return nil, err
	}
	defer coldChild.Zeroize()

	agentChild, err := derive.DeriveChildShardFromSecret(agentMaster.Secret, path)
	if err != nil {
		return nil, err
	}
	defer agentChild.Zeroize()

	childPubkey, err := keys.CombinePublicPoints(coldChild.PublicPoint(), agentChild.PublicPoint())
	if err != nil {
		return nil, err
	}
	if keys.ChildIdFromPublicKey(childPubkey) != childID {
		return nil, sigilerr.New(sigilerr.Crypto, "re-derived child key does not match registered child id")
	}

	pairs, err := presig.GenerateBatch(coldChild, agentChild, newPresigCount)
	if err != nil {
		return nil, err
	}
	coldShares, agentShares := presig.SplitShares(pairs)

	expiry := disk.Expiry{
		MaxUsesBeforeReconcile: s.maxUsesBeforeReconcile,
	}.ResetForReconciliation(now+s.presigValidityDays*SecondsPerDay, now+s.reconciliationDeadlineDays*SecondsPerDay)

	header := disk.NewHeader(childID, childPubkey, path, uint32(newPresigCount), expiry, now)
	sig, err := signing.Sign(s.master.Scalar(), header.HashForSigning(disk.PresigTableCommitment(coldShares)))
	if err != nil {
		return nil, err
	}
	header.MotherSignature = sig

	format := disk.Format{Header: header, Presigs: coldShares}

	shardData := &shard.AgentShardData{
		ChildID:        childID.Hex(),
		PresigShares:   agentShares,
		CreatedAt:      now,
		DerivationPath: path.String(),
	}
	encrypted, passcode, err := shard.Encrypt(shardData)
	if err != nil {
		return nil, err
	}

	// The approving reconciliation audited the old table through its
	// last used slot; record that high-water mark with the refill.
	if err := s.ChildRegistry.RecordRefill(childID, image.Header.PresigUsed); err != nil {
		return nil, err
	}
	if err := s.storage.saveChildRegistry(s.ChildRegistry); err != nil {
		return nil, err
	}

	s.logger.Info("refill complete",
		zap.String("child_id", childID.Hex()),
		zap.Int("presig_count", newPresigCount),
	)

	return &RefillResult{
		Disk:           format,
		DiskBytes:      format.Bytes(),
		EncryptedShard: encrypted,
		Passcode:       passcode,
	}, nil
}

// NullifyAgent runs spec.md §4.6's nullify_agent operation: fold the
// agent's prime into the accumulator and publish a freshly signed
// accumulator record, so every other daemon can refresh its witness.
func (s *Session) NullifyAgent(agentID agent.Id, now uint64) (PublicationRecord, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.master == nil {
		return PublicationRecord{}, "", sigilerr.New(sigilerr.InvalidInput, "session is locked")
	}

	if err := s.AgentRegistry.Nullify(agentID, now); err != nil {
		return PublicationRecord{}, "", err
	}

	if err := s.saveAgentRegistryFile(); err != nil {
		return PublicationRecord{}, "", err
	}

	rec, wire, err := PublishAccumulator(s.AgentRegistry.Accumulator(), s.master.Scalar(), now)
	if err != nil {
		return PublicationRecord{}, "", err
	}

	s.logger.Info("agent nullified",
		zap.String("agent_id", agentID.Hex()),
		zap.Uint64("accumulator_version", rec.AccVersion),
	)

	return rec, wire, nil
}
