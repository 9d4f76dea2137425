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

package disk

import (
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log"

	"github.com/sigil-mpc/sigil/keys"
	"github.com/sigil-mpc/sigil/presig"
	"github.com/sigil-mpc/sigil/sigilerr"
	"github.com/sigil-mpc/sigil/signing"
)

var log = logging.Logger("sigil/disk")

// Format is the full in-memory image of a disk: header, presignature
// table, and usage log.
type Format struct {
	Header   Header
	Presigs  []presig.ColdShare
	UsageLog UsageLog
}

// Bytes serializes the complete disk image: header, then the
// presignature table at PresigTableOffset, then the usage log
// immediately following the table.
func (f Format) Bytes() []byte {
	headerBytes := f.Header.Bytes()
	tableBytes := encodePresigTable(f.Presigs)
	logBytes := f.UsageLog.Bytes()

	total := PresigTableOffset + len(tableBytes) + len(logBytes)
	out := make([]byte, total)
	copy(out, headerBytes[:])
	copy(out[PresigTableOffset:], tableBytes)
	copy(out[PresigTableOffset+len(tableBytes):], logBytes)
	return out
}

// FromBytes parses a complete disk image.
func FromBytes(b []byte) (Format, error) {
	if len(b) < HeaderSize {
		return Format{}, sigilerr.New(sigilerr.DiskInvalid, "disk image shorter than header")
	}
	header, err := HeaderFromBytes(b[:HeaderSize])
	if err != nil {
		return Format{}, err
	}

	tableEnd := PresigTableOffset + int(header.PresigTotal)*PresigRecordSize
	if len(b) < tableEnd {
		return Format{}, sigilerr.New(sigilerr.DiskInvalid, "disk image shorter than declared presig table")
	}
	presigs, err := decodePresigTable(b[PresigTableOffset:tableEnd], header.PresigTotal)
	if err != nil {
		return Format{}, err
	}

	usageLog, err := UsageLogFromBytes(b[tableEnd:])
	if err != nil {
		return Format{}, err
	}

	return Format{Header: header, Presigs: presigs, UsageLog: usageLog}, nil
}

// Validate runs the full §4.4 load-time validation sequence gating a
// sign attempt: the structural checks of ValidateStructure plus the
// expiry and uses-since-reconcile bounds. A disk whose reconciliation
// use budget is spent is refused here even with fresh presigs
// remaining.
func (f Format) Validate(motherPubkey keys.PublicKey, now uint64) error {
	if err := f.ValidateStructure(motherPubkey); err != nil {
		return err
	}

	if f.Header.Expiry.IsExpired(now) {
		return sigilerr.New(sigilerr.DiskInvalid, "disk has expired")
	}

	if f.Header.Expiry.UsesSinceReconcile >= f.Header.Expiry.MaxUsesBeforeReconcile {
		return sigilerr.New(sigilerr.DiskInvalid, "use budget since last reconciliation is spent; reconcile before signing again")
	}

	return nil
}

// ValidateStructure checks everything about the image that does not
// depend on the clock or the use budget: magic and version (magic is
// already enforced by HeaderFromBytes), the mother signature over the
// header plus the presig table's immutable-field commitment (catching
// any bit flip in R/KCold/ChiCold, even in an already-Used record), the
// three-way presig_used/status-count/log-length cross-check that
// substitutes for covering the mutable counters under the header
// signature, and each usage log entry's signature against the child's
// combined public key. Reconciliation uses this alone: a disk returned
// precisely because its budget is spent or its deadline passed is not
// anomalous for being in that state.
//
// motherPubkey is the mother's own signing public key (distinct from
// the child's combined MPC public key in f.Header.ChildPubkey): the
// header attests to the mother's authority over this disk, so it is
// the mother's key, not the child's, that the signature verifies
// against.
func (f Format) ValidateStructure(motherPubkey keys.PublicKey) error {
	if f.Header.Version != Version {
		return sigilerr.New(sigilerr.DiskInvalid, "unsupported disk format version")
	}

	commitment := PresigTableCommitment(f.Presigs)
	expected := f.Header.HashForSigning(commitment)
	var sig signing.Signature
	copy(sig[:], f.Header.MotherSignature[:])
	if !signing.Verify(motherPubkey, expected, sig) {
		return sigilerr.New(sigilerr.DiskInvalid, "mother signature does not verify over header")
	}

	if uint32(len(f.Presigs)) != f.Header.PresigTotal {
		return sigilerr.New(sigilerr.DiskInvalid, "presig table length does not match header's declared total")
	}

	usedCount := uint32(0)
	for _, c := range f.Presigs {
		if c.Status == presig.Used {
			usedCount++
		}
	}
	if usedCount != f.Header.PresigUsed {
		return sigilerr.New(sigilerr.DiskInvalid, "header presig_used does not match the table's used-status count")
	}

	if err := f.UsageLog.Validate(); err != nil {
		return err
	}
	if uint32(len(f.UsageLog.Entries)) != f.Header.PresigUsed {
		return sigilerr.New(sigilerr.DiskInvalid, "usage log length does not match header presig_used")
	}
	for _, e := range f.UsageLog.Entries {
		if e.PresigIndex >= uint32(len(f.Presigs)) {
			return sigilerr.New(sigilerr.DiskInvalid, "usage log references a presig index outside the table")
		}
		if f.Presigs[e.PresigIndex].Status != presig.Used {
			return sigilerr.New(sigilerr.DiskInvalid, "usage log entry references a presig not marked used")
		}
		if !signing.Verify(f.Header.ChildPubkey, e.MessageHash, signing.Signature(e.Signature)) {
			return sigilerr.New(sigilerr.DiskInvalid, "usage log entry signature does not verify against child pubkey")
		}
	}

	return nil
}

// SelectFresh returns the index of the lowest-indexed Fresh
// presignature, or a PresigExhausted error if none remain.
func (f Format) SelectFresh() (int, error) {
	for i, c := range f.Presigs {
		if c.Status == presig.Fresh {
			return i, nil
		}
	}
	return 0, sigilerr.New(sigilerr.PresigExhausted, "no fresh presignature remains on disk")
}

// MarkUsed transitions presig index to Used, appends a usage log
// entry, and increments the header's mutable counters. Callers must
// hold the child-scoped signing lock (signing.Coordinator) across this
// call and the subsequent atomic rewrite.
func (f *Format) MarkUsed(index int, entry UsageLogEntry) error {
	if index < 0 || index >= len(f.Presigs) {
		return sigilerr.New(sigilerr.InvalidInput, "presig index out of range")
	}
	if f.Presigs[index].Status != presig.Fresh {
		return sigilerr.New(sigilerr.DiskInvalid, "presig index is not Fresh")
	}

	f.Presigs[index].Status = presig.Used
	f.UsageLog.Entries = append(f.UsageLog.Entries, entry)
	f.Header.PresigUsed++
	f.Header.Expiry.UsesSinceReconcile++
	return nil
}

// Poison marks a presig index Poisoned after a self-verification
// failure (§7): it must never again be selected as Fresh, and the disk
// requires reconciliation before the child can sign again.
func (f *Format) Poison(index int) error {
	if index < 0 || index >= len(f.Presigs) {
		return sigilerr.New(sigilerr.InvalidInput, "presig index out of range")
	}
	f.Presigs[index].Status = presig.Poisoned
	log.Warnw("poisoned presignature after self-verification failure", "index", index)
	return nil
}

// WriteAtomic writes the image to path via a temp file in the same
// directory, fsync, then rename, so a crash mid-write never leaves a
// partially written disk image in place.
func WriteAtomic(path string, f Format) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sigil-disk-*.tmp")
	if err != nil {
		return sigilerr.Wrap(sigilerr.Io, err, "create temp file for atomic disk write")
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(f.Bytes()); err != nil {
		tmp.Close()
		return sigilerr.Wrap(sigilerr.Io, err, "write disk image to temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return sigilerr.Wrap(sigilerr.Io, err, "fsync temp disk image")
	}
	if err := tmp.Close(); err != nil {
		return sigilerr.Wrap(sigilerr.Io, err, "close temp disk image")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return sigilerr.Wrap(sigilerr.Io, err, "rename temp disk image into place")
	}
	return nil
}

// ReadFile loads and parses a disk image from path. A missing file
// surfaces as NotFound so the signing path can report "no disk"
// distinctly from a present-but-invalid one.
func ReadFile(path string) (Format, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Format{}, sigilerr.Wrap(sigilerr.NotFound, err, "no disk image at path")
		}
		return Format{}, sigilerr.Wrap(sigilerr.Io, err, "read disk image")
	}
	return FromBytes(b)
}
