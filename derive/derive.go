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

// Package derive implements Sigil's deterministic hierarchical child
// derivation. This is deliberately not BIP32: there is no HMAC-SHA512
// chain code, just a direct keyed hash of the path onto the master
// scalar, matching sigil-mother/src/keygen.rs::derive_child (the
// production derivation in the original source, as opposed to
// sigil-core/src/hd.rs's older Vec-based CKD-style iteration).
package derive

import (
	"encoding/binary"

	"github.com/sigil-mpc/sigil/curve"
	"github.com/sigil-mpc/sigil/keys"
	"github.com/sigil-mpc/sigil/sigilerr"
)

// Hardened is the top bit marking a path component as hardened,
// matching sigil-core/src/crypto.rs's HARDENED constant.
const Hardened uint32 = 0x80000000

// MaxDepth bounds the fixed-array path encoding (32 bytes: 1 depth
// byte + 7 * 4-byte little-endian components + 3 bytes padding).
const MaxDepth = 7

// Path is a fixed-length derivation path: up to 7 u32 components, each
// optionally hardened via its top bit.
type Path struct {
	Components [MaxDepth]uint32
	Depth      uint8
}

// Ethereum builds m/44'/60'/0'/childIndex — the last component is not
// hardened, matching crypto.rs's `ethereum` constructor.
func Ethereum(childIndex uint32) Path {
	return Path{
		Components: [MaxDepth]uint32{44 | Hardened, 60 | Hardened, 0 | Hardened, childIndex},
		Depth:      4,
	}
}

// EthereumHardened builds m/44'/60'/0'/childIndex' with every
// component hardened, matching crypto.rs's `ethereum_hardened`
// constructor — the variant sigil-mother/src/ceremony.rs actually uses
// for child creation.
func EthereumHardened(childIndex uint32) Path {
	return Path{
		Components: [MaxDepth]uint32{44 | Hardened, 60 | Hardened, 0 | Hardened, childIndex | Hardened},
		Depth:      4,
	}
}

// Bytes encodes the path as 32 bytes: byte 0 is depth, followed by
// Depth little-endian u32 components (unused components/tail bytes
// are zero), matching crypto.rs's to_bytes.
func (p Path) Bytes() []byte {
	out := make([]byte, 32)
	out[0] = p.Depth
	for i := 0; i < int(p.Depth) && i < MaxDepth; i++ {
		binary.LittleEndian.PutUint32(out[1+4*i:], p.Components[i])
	}
	return out
}

// PathFromBytes decodes a 32-byte encoding produced by Bytes.
func PathFromBytes(b []byte) (Path, error) {
	if len(b) != 32 {
		return Path{}, sigilerr.New(sigilerr.InvalidInput, "derivation path must be 32 bytes")
	}
	depth := b[0]
	if depth > MaxDepth {
		return Path{}, sigilerr.New(sigilerr.InvalidInput, "derivation path depth exceeds maximum")
	}
	var p Path
	p.Depth = depth
	for i := 0; i < int(depth); i++ {
		p.Components[i] = binary.LittleEndian.Uint32(b[1+4*i:])
	}
	return p, nil
}

// String renders the path in the conventional m/i'/j form, used for
// registry uniqueness checks and log lines.
func (p Path) String() string {
	s := "m"
	for i := 0; i < int(p.Depth); i++ {
		c := p.Components[i]
		hardened := c&Hardened != 0
		idx := c &^ Hardened
		s += "/"
		if hardened {
			s += itoaHardened(idx)
		} else {
			s += itoa(idx)
		}
	}
	return s
}

func itoa(v uint32) string {
	return itoaHardenedImpl(v, "")
}

func itoaHardened(v uint32) string {
	return itoaHardenedImpl(v, "'")
}

func itoaHardenedImpl(v uint32, suffix string) string {
	if v == 0 {
		return "0" + suffix
	}
	var digits [10]byte
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[i:]) + suffix
}

// DeriveChildShard computes s_c := H("derive" || s || path) mod n,
// rejecting zero and retrying with an incrementing counter appended,
// matching spec.md §4.1's child derivation rule.
func DeriveChildShard(master *keys.MasterShard, path Path) (*keys.ChildShard, error) {
	return deriveFromScalarBytes(master.Secret[:], path)
}

// DeriveChildShardFromSecret is the same derivation, but takes a raw
// 32-byte scalar directly — used on the agent side, which never holds
// a keys.MasterShard for the mother's cold half.
func DeriveChildShardFromSecret(secret [32]byte, path Path) (*keys.ChildShard, error) {
	return deriveFromScalarBytes(secret[:], path)
}

func deriveFromScalarBytes(secret []byte, path Path) (*keys.ChildShard, error) {
	pathBytes := path.Bytes()
	for counter := uint32(0); counter < 1<<16; counter++ {
		var counterBytes [4]byte
		binary.LittleEndian.PutUint32(counterBytes[:], counter)
		h := curve.SHA256([]byte("derive"), secret, pathBytes, counterBytes[:])
		scalar, err := curve.ScalarFromBytes(h[:])
		if err != nil {
			continue
		}
		var out keys.ChildShard
		scalar.FillBytes(out.Secret[:])
		return &out, nil
	}
	return nil, sigilerr.New(sigilerr.Crypto, "exhausted derivation retry counter")
}
