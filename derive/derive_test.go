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

package derive_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-mpc/sigil/derive"
)

func TestPathBytesRoundTripAtMaxDepth(t *testing.T) {
	p := derive.Path{
		Components: [derive.MaxDepth]uint32{1, 2, 3, 4, 5, 6, 7 | derive.Hardened},
		Depth:      derive.MaxDepth,
	}
	b := p.Bytes()
	assert.Len(t, b, 32)

	parsed, err := derive.PathFromBytes(b)
	require.NoError(t, err)
	assert.Equal(t, p, parsed)
}

func TestPathFromBytesAcceptsDepthSeven(t *testing.T) {
	var b [32]byte
	b[0] = 7
	for i := 0; i < 7; i++ {
		b[1+4*i] = byte(i + 1)
	}

	p, err := derive.PathFromBytes(b[:])
	require.NoError(t, err)
	assert.Equal(t, uint8(7), p.Depth)
	assert.Equal(t, uint32(1), p.Components[0])
}

func TestPathFromBytesRejectsDepthAboveSeven(t *testing.T) {
	var b [32]byte
	b[0] = 8

	_, err := derive.PathFromBytes(b[:])
	require.Error(t, err)
}

func TestEthereumHardenedProducesDepthFourHardenedPath(t *testing.T) {
	p := derive.EthereumHardened(3)
	assert.Equal(t, uint8(4), p.Depth)
	assert.Equal(t, "m/44'/60'/0'/3'", p.String())
}
