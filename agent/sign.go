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
	logging "github.com/ipfs/go-log"

	"github.com/sigil-mpc/sigil/disk"
	"github.com/sigil-mpc/sigil/keys"
	"github.com/sigil-mpc/sigil/signing"
	"github.com/sigil-mpc/sigil/sigilerr"
)

var daemonLog = logging.Logger("sigil/agent")

// SignResult is what a completed signing operation hands back to the
// daemon's caller: the 2-of-2 signature and the disk slot it consumed
// (update_tx_hash addresses its later call by this index).
type SignResult struct {
	Signature   signing.Signature
	PresigIndex int
}

// Sign runs spec.md §4.5's signing transition end to end: load and
// validate the disk, select the lowest-index Fresh presignature,
// complete the MPC signature (§4.3), mark the slot used, append the
// usage log entry, and atomically rewrite the disk — all while holding
// coordinator's child-scoped lock, matching spec.md §5's "per-child
// signing is serialized... releasing the lock before atomic rewrite is
// a defect". A self-verification failure poisons the slot and
// persists that before returning the error, per spec.md §7's "the
// presig MUST be quarantined".
func Sign(
	coordinator *signing.Coordinator,
	diskPath string,
	motherPubkey keys.PublicKey,
	store *PresigStore,
	messageHash [32]byte,
	chainID uint32,
	description string,
	now uint64,
) (SignResult, error) {
	unlock := coordinator.Lock(store.ChildID.Hex())
	defer unlock()

	image, err := disk.ReadFile(diskPath)
	if err != nil {
		return SignResult{}, err
	}
	if image.Header.ChildID != store.ChildID {
		return SignResult{}, sigilerr.New(sigilerr.InvalidInput, "disk child id does not match this presig store")
	}
	if err := image.Validate(motherPubkey, now); err != nil {
		return SignResult{}, err
	}

	index, err := image.SelectFresh()
	if err != nil {
		return SignResult{}, err
	}

	agentShare, err := store.ShareAt(index)
	if err != nil {
		return SignResult{}, err
	}

	sig, err := signing.Complete(image.Presigs[index], agentShare, image.Header.ChildPubkey, messageHash)
	if err != nil {
		if sigilerr.KindOf(err) == sigilerr.SelfVerificationFailed {
			if poisonErr := image.Poison(index); poisonErr == nil {
				if writeErr := disk.WriteAtomic(diskPath, image); writeErr != nil {
					daemonLog.Errorw("failed to persist poisoned presig slot", "index", index, "error", writeErr)
				}
			}
		}
		return SignResult{}, err
	}

	entry := disk.UsageLogEntry{
		PresigIndex: uint32(index),
		Timestamp:   now,
		MessageHash: messageHash,
		Signature:   sig,
		ChainID:     chainID,
		Description: description,
	}
	if err := image.MarkUsed(index, entry); err != nil {
		return SignResult{}, err
	}
	if err := disk.WriteAtomic(diskPath, image); err != nil {
		return SignResult{}, err
	}
	store.Advance(index)

	daemonLog.Infow("signed", "child_id", store.ChildID.Hex(), "presig_index", index)
	return SignResult{Signature: sig, PresigIndex: index}, nil
}

// UpdateTxHash records the on-chain transaction hash for a completed
// signing operation, addressed by the presig index Sign returned (the
// log entry's tx_hash starts as a placeholder; the broadcaster fills it
// in once the transaction lands). A missing entry is a no-op: the disk
// may have been refilled between signing and broadcast confirmation.
// It takes the same per-child lock as Sign, since both rewrite the
// disk image.
func UpdateTxHash(coordinator *signing.Coordinator, diskPath string, childID keys.ChildId, presigIndex uint32, txHash [32]byte) error {
	unlock := coordinator.Lock(childID.Hex())
	defer unlock()

	image, err := disk.ReadFile(diskPath)
	if err != nil {
		return err
	}
	if image.Header.ChildID != childID {
		return sigilerr.New(sigilerr.InvalidInput, "disk child id does not match requested child")
	}

	for i := range image.UsageLog.Entries {
		if image.UsageLog.Entries[i].PresigIndex == presigIndex {
			image.UsageLog.Entries[i].TxHash = txHash
			return disk.WriteAtomic(diskPath, image)
		}
	}
	return nil
}

// DiskStatus is a point-in-time summary of a child disk's signing
// capacity and lifecycle state, matching spec.md §4.5's observable
// Fresh/Active/Exhausted/Expired states.
type DiskStatus struct {
	ChildID             keys.ChildId
	PresigTotal         uint32
	PresigUsed          uint32
	PresigRemaining     uint32
	DaysUntilExpiry     int64
	NeedsReconciliation bool
	IsValid             bool
}

// GetStatus loads and reports a child disk's current state without
// mutating it. IsValid reflects the full §4.4 load-time validation
// sequence; a false value means the disk must not be used for signing
// until reconciled or replaced.
func GetStatus(diskPath string, motherPubkey keys.PublicKey, now uint64) (DiskStatus, error) {
	image, err := disk.ReadFile(diskPath)
	if err != nil {
		return DiskStatus{}, err
	}

	isValid := image.Validate(motherPubkey, now) == nil

	return DiskStatus{
		ChildID:             image.Header.ChildID,
		PresigTotal:         image.Header.PresigTotal,
		PresigUsed:          image.Header.PresigUsed,
		PresigRemaining:     image.Header.PresigTotal - image.Header.PresigUsed,
		DaysUntilExpiry:     image.Header.Expiry.DaysUntilExpiry(now),
		NeedsReconciliation: image.Header.Expiry.NeedsReconciliation(now),
		IsValid:             isValid,
	}, nil
}
