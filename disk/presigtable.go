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

	"github.com/sigil-mpc/sigil/curve"
	"github.com/sigil-mpc/sigil/presig"
	"github.com/sigil-mpc/sigil/sigilerr"
)

// PresigRecordSize is the fixed on-disk size of one presignature table
// record: R (33) + KCold (32) + ChiCold (32) + status (1), padded out
// to a multiple of 8 for alignment.
const PresigRecordSize = 104

// presigRecordBytes serializes a single cold share into its fixed-size
// table record.
func presigRecordBytes(c presig.ColdShare) [PresigRecordSize]byte {
	var out [PresigRecordSize]byte
	off := 0
	copy(out[off:], c.R[:])
	off += 33
	copy(out[off:], c.KCold[:])
	off += 32
	copy(out[off:], c.ChiCold[:])
	off += 32
	out[off] = byte(c.Status)
	return out
}

// presigRecordFromBytes parses one fixed-size table record.
func presigRecordFromBytes(b []byte) (presig.ColdShare, error) {
	if len(b) < PresigRecordSize {
		return presig.ColdShare{}, sigilerr.New(sigilerr.DiskInvalid, "insufficient bytes for presig record")
	}
	var c presig.ColdShare
	off := 0
	copy(c.R[:], b[off:off+33])
	off += 33
	copy(c.KCold[:], b[off:off+32])
	off += 32
	copy(c.ChiCold[:], b[off:off+32])
	off += 32
	c.Status = presig.Status(b[off])
	return c, nil
}

// encodePresigTable serializes a full presignature table.
func encodePresigTable(shares []presig.ColdShare) []byte {
	out := make([]byte, len(shares)*PresigRecordSize)
	for i, c := range shares {
		rec := presigRecordBytes(c)
		copy(out[i*PresigRecordSize:], rec[:])
	}
	return out
}

// PresigTableCommitment hashes the presignature table's immutable
// fields (R, KCold, ChiCold) in index order, deliberately excluding the
// mutable Status byte, so the commitment stays stable across MarkUsed
// and Poison but still binds the hash in Header.HashForSigning to the
// exact cold shares the mother generated.
func PresigTableCommitment(shares []presig.ColdShare) [32]byte {
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(shares)))

	parts := make([][]byte, 0, len(shares)*3+1)
	parts = append(parts, count[:])
	for _, c := range shares {
		parts = append(parts, c.R[:], c.KCold[:], c.ChiCold[:])
	}
	return curve.SHA256(parts...)
}

// decodePresigTable parses count fixed-size records out of b.
func decodePresigTable(b []byte, count uint32) ([]presig.ColdShare, error) {
	out := make([]presig.ColdShare, count)
	for i := uint32(0); i < count; i++ {
		start := int(i) * PresigRecordSize
		end := start + PresigRecordSize
		if end > len(b) {
			return nil, sigilerr.New(sigilerr.DiskInvalid, "presig table shorter than declared total")
		}
		c, err := presigRecordFromBytes(b[start:end])
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}
