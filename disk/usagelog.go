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
	"encoding/binary"
	"math"

	"github.com/sigil-mpc/sigil/sigilerr"
)

// UsageLogEntry records one completed signing operation: which
// presignature slot it consumed, what was signed, and the resulting
// signature, matching sigil-core/src/disk.rs's UsageLogEntry.
type UsageLogEntry struct {
	PresigIndex uint32
	Timestamp   uint64
	MessageHash [32]byte
	Signature   [64]byte
	ChainID     uint32
	TxHash      [32]byte
	// ZkproofHash is nil when no zk-proof was attached to this
	// signing operation.
	ZkproofHash *[32]byte
	Description string
}

// Bytes serializes one entry: u32 index, u64 timestamp, 32B hash, 64B
// signature, u32 chain id, 32B tx hash, a zk-proof presence flag plus
// optional 32B hash, then a u16-length-prefixed description.
func (e UsageLogEntry) Bytes() []byte {
	descBytes := []byte(e.Description)
	if len(descBytes) > math.MaxUint16 {
		descBytes = descBytes[:math.MaxUint16]
	}

	out := make([]byte, 0, 4+8+32+64+4+32+1+32+2+len(descBytes))
	var u32 [4]byte
	var u64 [8]byte

	binary.LittleEndian.PutUint32(u32[:], e.PresigIndex)
	out = append(out, u32[:]...)

	binary.LittleEndian.PutUint64(u64[:], e.Timestamp)
	out = append(out, u64[:]...)

	out = append(out, e.MessageHash[:]...)
	out = append(out, e.Signature[:]...)

	binary.LittleEndian.PutUint32(u32[:], e.ChainID)
	out = append(out, u32[:]...)

	out = append(out, e.TxHash[:]...)

	if e.ZkproofHash != nil {
		out = append(out, 1)
		out = append(out, e.ZkproofHash[:]...)
	} else {
		out = append(out, 0)
	}

	var u16 [2]byte
	binary.LittleEndian.PutUint16(u16[:], uint16(len(descBytes)))
	out = append(out, u16[:]...)
	out = append(out, descBytes...)

	return out
}

// usageLogEntryFromBytes parses one entry starting at b[0], returning
// the entry and the number of bytes consumed.
func usageLogEntryFromBytes(b []byte) (UsageLogEntry, int, error) {
	const fixedPrefix = 4 + 8 + 32 + 64 + 4 + 32 + 1
	if len(b) < fixedPrefix {
		return UsageLogEntry{}, 0, sigilerr.New(sigilerr.DiskInvalid, "truncated usage log entry")
	}

	var e UsageLogEntry
	off := 0
	e.PresigIndex = binary.LittleEndian.Uint32(b[off:])
	off += 4
	e.Timestamp = binary.LittleEndian.Uint64(b[off:])
	off += 8
	copy(e.MessageHash[:], b[off:off+32])
	off += 32
	copy(e.Signature[:], b[off:off+64])
	off += 64
	e.ChainID = binary.LittleEndian.Uint32(b[off:])
	off += 4
	copy(e.TxHash[:], b[off:off+32])
	off += 32

	hasZk := b[off]
	off++
	if hasZk != 0 {
		if len(b) < off+32 {
			return UsageLogEntry{}, 0, sigilerr.New(sigilerr.DiskInvalid, "truncated usage log entry zk-proof hash")
		}
		var zk [32]byte
		copy(zk[:], b[off:off+32])
		e.ZkproofHash = &zk
		off += 32
	}

	if len(b) < off+2 {
		return UsageLogEntry{}, 0, sigilerr.New(sigilerr.DiskInvalid, "truncated usage log entry description length")
	}
	descLen := int(binary.LittleEndian.Uint16(b[off:]))
	off += 2
	if len(b) < off+descLen {
		return UsageLogEntry{}, 0, sigilerr.New(sigilerr.DiskInvalid, "truncated usage log entry description")
	}
	e.Description = string(b[off : off+descLen])
	off += descLen

	return e, off, nil
}

// UsageLog is the disk's append-only record of completed signings.
type UsageLog struct {
	Entries []UsageLogEntry
}

// Bytes serializes the log as the concatenation of its entries.
func (l UsageLog) Bytes() []byte {
	var out []byte
	for _, e := range l.Entries {
		out = append(out, e.Bytes()...)
	}
	return out
}

// UsageLogFromBytes parses a full append-only log from b.
func UsageLogFromBytes(b []byte) (UsageLog, error) {
	var log UsageLog
	for len(b) > 0 {
		e, n, err := usageLogEntryFromBytes(b)
		if err != nil {
			return UsageLog{}, err
		}
		log.Entries = append(log.Entries, e)
		b = b[n:]
	}
	return log, nil
}

// Validate checks §4.4's log-integrity rules: presig indices must be
// unique and strictly increasing in append order (the log is append
// only; a later signing of an earlier index, or a repeat, indicates
// tampering or a non-atomic write).
func (l UsageLog) Validate() error {
	var last int64 = -1
	seen := make(map[uint32]bool, len(l.Entries))
	for _, e := range l.Entries {
		if seen[e.PresigIndex] {
			return sigilerr.New(sigilerr.DiskInvalid, "usage log contains a duplicate presignature index")
		}
		if int64(e.PresigIndex) <= last {
			return sigilerr.New(sigilerr.DiskInvalid, "usage log indices are not strictly increasing")
		}
		seen[e.PresigIndex] = true
		last = int64(e.PresigIndex)
	}
	return nil
}
