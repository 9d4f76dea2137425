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
	"crypto/rand"
	"math/big"

	"github.com/sigil-mpc/sigil/curve"
	"github.com/sigil-mpc/sigil/sigilerr"
)

// MasterShard is the agent-side half of the master key: a 32-byte
// scalar never held by the mother. It is a standalone type, not
// keys.MasterShard, because the ceremony drivers must model the two
// sides as distinct collaborators rather than sharing a struct that
// would make it easy for a future caller to conflate them.
type MasterShard struct {
	Secret    [32]byte
	CreatedAt uint64
}

// Zeroize overwrites the secret scalar.
func (m *MasterShard) Zeroize() {
	for i := range m.Secret {
		m.Secret[i] = 0
	}
}

// GenerateMasterShard draws a uniformly random scalar in [1, n-1] for
// the agent's half of the master key split, mirroring
// keys.GenerateMasterShard's rejection sampling for the mother's half.
func GenerateMasterShard(createdAt uint64) (*MasterShard, error) {
	for {
		var buf [32]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, sigilerr.Wrap(sigilerr.Crypto, err, "read randomness")
		}
		s := new(big.Int).SetBytes(buf[:])
		if s.Sign() == 0 || s.Cmp(curve.N()) >= 0 {
			continue
		}
		return &MasterShard{Secret: buf, CreatedAt: createdAt}, nil
	}
}

func (m *MasterShard) Scalar() *big.Int {
	return new(big.Int).SetBytes(m.Secret[:])
}

func (m *MasterShard) PublicPoint() []byte {
	return curve.ScalarBaseMult(m.Scalar())
}
