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

package shard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-mpc/sigil/presig"
)

func TestGeneratePasscodeLengthAndAlphabet(t *testing.T) {
	p, err := GeneratePasscode()
	require.NoError(t, err)
	assert.Len(t, p.Reveal(), PasscodeLength)
	for _, c := range p.Reveal() {
		assert.Contains(t, passcodeAlphabet, string(c))
	}
}

func TestPasscodeStringIsRedacted(t *testing.T) {
	p, err := GeneratePasscode()
	require.NoError(t, err)
	assert.Equal(t, "Passcode([REDACTED])", p.String())
	assert.NotContains(t, p.String(), p.Reveal())
}

func TestPasscodeDisplayFormatted(t *testing.T) {
	p := Passcode("ABCDEFGHJKLMNPQRSTUVWXYZ")
	assert.Equal(t, "ABCD-EFGH-JKLM-NPQR-STUV-WXYZ", p.DisplayFormatted())
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	data := &AgentShardData{
		ChildID:        "abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234abcd1234",
		PresigShares:   []presig.AgentShare{{}, {}},
		CreatedAt:      1700000000,
		DerivationPath: "m/44'/60'/0'/0'",
	}

	encrypted, passcode, err := Encrypt(data)
	require.NoError(t, err)
	assert.Equal(t, Version, encrypted.Version)
	assert.Equal(t, uint32(2), encrypted.PresigCount)
	assert.Equal(t, "abcd1234", encrypted.ChildIDShort)

	decrypted, err := Decrypt(encrypted, passcode.Reveal())
	require.NoError(t, err)
	assert.Equal(t, data.ChildID, decrypted.ChildID)
	assert.Equal(t, data.CreatedAt, decrypted.CreatedAt)
	assert.Len(t, decrypted.PresigShares, 2)
}

func TestDecryptWrongPasscodeFails(t *testing.T) {
	data := &AgentShardData{ChildID: "deadbeef", PresigShares: nil, CreatedAt: 1, DerivationPath: "m/0"}
	encrypted, _, err := Encrypt(data)
	require.NoError(t, err)

	_, err = Decrypt(encrypted, "WRONGWRONGWRONGWRONGWRO")
	assert.Error(t, err)
}

func TestQREncodeDecodeRoundTrip(t *testing.T) {
	data := &AgentShardData{ChildID: "cafebabe", PresigShares: nil, CreatedAt: 42, DerivationPath: "m/1"}
	encrypted, passcode, err := Encrypt(data)
	require.NoError(t, err)

	qr, err := EncodeForQR(encrypted)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(qr, Prefix))

	decoded, err := DecodeFromQR(qr)
	require.NoError(t, err)

	decrypted, err := Decrypt(decoded, passcode.Reveal())
	require.NoError(t, err)
	assert.Equal(t, data.ChildID, decrypted.ChildID)
}

func TestDecodeFromQRRejectsBadPrefix(t *testing.T) {
	_, err := DecodeFromQR("NOT:THE:RIGHT:PREFIX")
	assert.Error(t, err)
}

func TestEstimateQRSizeGrowsWithPresigCount(t *testing.T) {
	small := EstimateQRSize(1)
	large := EstimateQRSize(100)
	assert.Less(t, small, large)
}
