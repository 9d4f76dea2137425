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

// Package child holds the mother-local child registry entry type,
// grounded on sigil-core/src/disk.rs's ChildStatus/NullificationReason
// and sigil-mother/src/registry.rs's ChildRegistryEntry usage contract.
package child

import "github.com/sigil-mpc/sigil/keys"

// Status is a child disk's registry-side lifecycle state, distinct
// from the disk-local Fresh/Active/Exhausted/Expired states of
// spec.md §4.5: this is the mother's authority over whether the child
// may sign at all.
type Status int

const (
	Active Status = iota
	Suspended
	Nullified
)

// NullificationReason records why a child was terminally revoked.
type NullificationReason int

const (
	ManualRevocation NullificationReason = iota
	ReconciliationAnomaly
	PresigMisuse
	LostOrStolen
	CompromisedAgent
)

func (r NullificationReason) String() string {
	switch r {
	case ManualRevocation:
		return "ManualRevocation"
	case ReconciliationAnomaly:
		return "ReconciliationAnomaly"
	case PresigMisuse:
		return "PresigMisuse"
	case LostOrStolen:
		return "LostOrStolen"
	case CompromisedAgent:
		return "CompromisedAgent"
	default:
		return "Unknown"
	}
}

// NullificationInfo is set once a child transitions to Nullified.
type NullificationInfo struct {
	Reason               NullificationReason
	Timestamp            uint64
	LastValidPresigIndex uint32
}

// ReconciliationRecord is one entry in a child's reconciliation
// history: when it happened and how many signatures had accrued since
// the prior reconciliation.
type ReconciliationRecord struct {
	Timestamp           uint64
	SignaturesSinceLast uint32
}

// RegistryEntry is the mother-local record of a created child: its
// identity, derivation path, lifecycle status, and reconciliation/
// refill bookkeeping.
type RegistryEntry struct {
	ChildID                keys.ChildId
	DerivationPath         string
	Status                 Status
	Nullification          NullificationInfo
	CreatedAt              uint64
	ReconciliationHistory  []ReconciliationRecord
	RefillCount            uint32
	ReconciledThroughIndex uint32
}

func NewRegistryEntry(childID keys.ChildId, derivationPath string, createdAt uint64) *RegistryEntry {
	return &RegistryEntry{
		ChildID:        childID,
		DerivationPath: derivationPath,
		Status:         Active,
		CreatedAt:      createdAt,
	}
}

func (e *RegistryEntry) CanSign() bool { return e.Status == Active }

func (e *RegistryEntry) CanReactivate() bool { return e.Status == Suspended }

func (e *RegistryEntry) IsNullified() bool { return e.Status == Nullified }

// Nullify permanently revokes this child's registry entry.
func (e *RegistryEntry) Nullify(reason NullificationReason, timestamp uint64, lastValidPresigIndex uint32) {
	e.Status = Nullified
	e.Nullification = NullificationInfo{
		Reason:               reason,
		Timestamp:            timestamp,
		LastValidPresigIndex: lastValidPresigIndex,
	}
}

func (e *RegistryEntry) Suspend() {
	if e.Status == Active {
		e.Status = Suspended
	}
}

func (e *RegistryEntry) Reactivate() bool {
	if e.Status == Suspended {
		e.Status = Active
		return true
	}
	return false
}

// RecordReconciliation appends a reconciliation record, matching
// sigil-mother/src/registry.rs's record_reconciliation contract.
func (e *RegistryEntry) RecordReconciliation(timestamp uint64, signaturesSinceLast uint32) {
	e.ReconciliationHistory = append(e.ReconciliationHistory, ReconciliationRecord{
		Timestamp:           timestamp,
		SignaturesSinceLast: signaturesSinceLast,
	})
}

// RecordRefill bumps the refill counter and records how far into the
// old presig table the reconciliation that approved this refill
// audited, called at the end of a successful refill ceremony.
func (e *RegistryEntry) RecordRefill(reconciledThroughIndex uint32) {
	e.RefillCount++
	e.ReconciledThroughIndex = reconciledThroughIndex
}
