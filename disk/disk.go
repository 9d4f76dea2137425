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

// Package disk implements the binary floppy disk format for MPC
// presignature storage (the cold half), grounded on
// sigil-core/src/disk.rs: a fixed 256-byte header, a fixed-size
// presignature table, and an append-only usage log.
package disk

import (
	"encoding/binary"

	"github.com/sigil-mpc/sigil/curve"
	"github.com/sigil-mpc/sigil/derive"
	"github.com/sigil-mpc/sigil/keys"
	"github.com/sigil-mpc/sigil/sigilerr"
)

// Magic identifies a Sigil disk image.
var Magic = [8]byte{'S', 'I', 'G', 'I', 'L', 'D', 'S', 'K'}

const (
	// Version is the current disk format version.
	Version uint32 = 1

	// FloppySizeBytes is the canonical 1.44MB floppy capacity this
	// format targets, though nothing in this package enforces writing
	// to media of exactly that size.
	FloppySizeBytes = 1_474_560

	// DefaultPresigCount is the default number of presignatures
	// provisioned onto a freshly created disk.
	DefaultPresigCount = 1000

	// HeaderSize is the fixed on-disk header size.
	HeaderSize = 256

	// PresigTableOffset is the byte offset of the first presignature
	// table record.
	PresigTableOffset = 0x0100
)

// Expiry bounds a disk's usable lifetime and reconciliation cadence.
type Expiry struct {
	ExpiresAt              uint64
	ReconciliationDeadline uint64
	MaxUsesBeforeReconcile uint32
	UsesSinceReconcile     uint32
}

// IsExpired reports whether now is past ExpiresAt.
func (e Expiry) IsExpired(now uint64) bool {
	return now > e.ExpiresAt
}

// NeedsReconciliation reports whether the reconciliation deadline has
// passed or the use-count threshold has been reached.
func (e Expiry) NeedsReconciliation(now uint64) bool {
	return now > e.ReconciliationDeadline || e.UsesSinceReconcile >= e.MaxUsesBeforeReconcile
}

// DaysUntilExpiry returns the signed day count until ExpiresAt.
func (e Expiry) DaysUntilExpiry(now uint64) int64 {
	return (int64(e.ExpiresAt) - int64(now)) / 86400
}

// ResetForReconciliation returns a copy of e with the reconciliation
// window extended and the use counter zeroed, as performed at the end
// of a successful reconciliation ceremony (§8).
func (e Expiry) ResetForReconciliation(newExpiresAt, newReconciliationDeadline uint64) Expiry {
	e.ExpiresAt = newExpiresAt
	e.ReconciliationDeadline = newReconciliationDeadline
	e.UsesSinceReconcile = 0
	return e
}

// Header is the 256-byte disk header.
type Header struct {
	Magic           [8]byte
	Version         uint32
	ChildID         keys.ChildId
	ChildPubkey     keys.PublicKey
	Path            derive.Path
	PresigTotal     uint32
	PresigUsed      uint32
	CreatedAt       uint64
	Expiry          Expiry
	MotherSignature [64]byte
}

// NewHeader builds a fresh, unsigned header (PresigUsed=0, zero
// signature) for a newly created disk.
func NewHeader(childID keys.ChildId, childPubkey keys.PublicKey, path derive.Path, presigTotal uint32, expiry Expiry, createdAt uint64) Header {
	return Header{
		Magic:       Magic,
		Version:     Version,
		ChildID:     childID,
		ChildPubkey: childPubkey,
		Path:        path,
		PresigTotal: presigTotal,
		PresigUsed:  0,
		CreatedAt:   createdAt,
		Expiry:      expiry,
	}
}

// Bytes serializes the header to its fixed 256-byte on-disk layout.
// Bytes beyond the populated fields are left zero.
func (h Header) Bytes() [HeaderSize]byte {
	var out [HeaderSize]byte
	off := 0

	copy(out[off:], h.Magic[:])
	off += 8
	binary.LittleEndian.PutUint32(out[off:], h.Version)
	off += 4
	copy(out[off:], h.ChildID[:])
	off += 32
	copy(out[off:], h.ChildPubkey[:])
	off += 33
	copy(out[off:], h.Path.Bytes())
	off += 32
	binary.LittleEndian.PutUint32(out[off:], h.PresigTotal)
	off += 4
	binary.LittleEndian.PutUint32(out[off:], h.PresigUsed)
	off += 4
	binary.LittleEndian.PutUint64(out[off:], h.CreatedAt)
	off += 8
	binary.LittleEndian.PutUint64(out[off:], h.Expiry.ExpiresAt)
	off += 8
	binary.LittleEndian.PutUint64(out[off:], h.Expiry.ReconciliationDeadline)
	off += 8
	binary.LittleEndian.PutUint32(out[off:], h.Expiry.MaxUsesBeforeReconcile)
	off += 4
	binary.LittleEndian.PutUint32(out[off:], h.Expiry.UsesSinceReconcile)
	off += 4
	copy(out[off:], h.MotherSignature[:])

	return out
}

// HeaderFromBytes deserializes a 256-byte header, validating the magic
// but not the signature (callers must check that separately against
// the mother's public key, once it has the disk's child context).
func HeaderFromBytes(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, sigilerr.New(sigilerr.DiskInvalid, "insufficient bytes for disk header")
	}

	var h Header
	off := 0
	copy(h.Magic[:], b[off:off+8])
	if h.Magic != Magic {
		return Header{}, sigilerr.New(sigilerr.DiskInvalid, "invalid disk magic bytes")
	}
	off += 8
	h.Version = binary.LittleEndian.Uint32(b[off:])
	off += 4
	copy(h.ChildID[:], b[off:off+32])
	off += 32
	copy(h.ChildPubkey[:], b[off:off+33])
	off += 33
	path, err := derive.PathFromBytes(b[off : off+32])
	if err != nil {
		return Header{}, sigilerr.Wrap(sigilerr.DiskInvalid, err, "decode derivation path")
	}
	h.Path = path
	off += 32
	h.PresigTotal = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.PresigUsed = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.CreatedAt = binary.LittleEndian.Uint64(b[off:])
	off += 8
	h.Expiry.ExpiresAt = binary.LittleEndian.Uint64(b[off:])
	off += 8
	h.Expiry.ReconciliationDeadline = binary.LittleEndian.Uint64(b[off:])
	off += 8
	h.Expiry.MaxUsesBeforeReconcile = binary.LittleEndian.Uint32(b[off:])
	off += 4
	h.Expiry.UsesSinceReconcile = binary.LittleEndian.Uint32(b[off:])
	off += 4
	copy(h.MotherSignature[:], b[off:off+64])

	return h, nil
}

// HashForSigning computes the digest the mother signs over at disk
// creation and reconciliation time. presigTableCommitment must be
// PresigTableCommitment of the disk's presignature table (its
// immutable R/KCold/ChiCold fields only) so that a bit flip anywhere in
// the table, even inside an already-Used record, invalidates the
// mother signature on load (§8 boundary B4). Per §4.4's resolution of
// the header-signature/mutable-counter tension, the two fields that
// mutate purely from local signing activity (PresigUsed and
// Expiry.UsesSinceReconcile) are excluded from the signed digest: the
// mother only attests to the fields she controls (identity, path,
// total count, timestamps, thresholds, and the table commitment), and
// tampering with the mutable counters is instead caught by the
// load-time cross-check against the presig table and usage log (§4.4
// rules 6-7), not by signature verification.
func (h Header) HashForSigning(presigTableCommitment [32]byte) [32]byte {
	var presigTotal, maxUses [4]byte
	binary.LittleEndian.PutUint32(presigTotal[:], h.PresigTotal)
	binary.LittleEndian.PutUint32(maxUses[:], h.Expiry.MaxUsesBeforeReconcile)

	var createdAt, expiresAt, reconcileDeadline [8]byte
	binary.LittleEndian.PutUint64(createdAt[:], h.CreatedAt)
	binary.LittleEndian.PutUint64(expiresAt[:], h.Expiry.ExpiresAt)
	binary.LittleEndian.PutUint64(reconcileDeadline[:], h.Expiry.ReconciliationDeadline)

	var version [4]byte
	binary.LittleEndian.PutUint32(version[:], h.Version)

	return curve.SHA256(
		h.Magic[:],
		version[:],
		h.ChildID[:],
		h.ChildPubkey[:],
		h.Path.Bytes(),
		presigTotal[:],
		createdAt[:],
		expiresAt[:],
		reconcileDeadline[:],
		maxUses[:],
		presigTableCommitment[:],
	)
}
