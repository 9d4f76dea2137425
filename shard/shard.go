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

// Package shard implements the encrypted agent-shard transport used
// to carry a freshly created child's agent-side presignature shares
// off the air-gapped mother device: Argon2id key derivation from a
// short passcode, ChaCha20-Poly1305 authenticated encryption, and a
// `SIGIL:ESHARD:1:<base64>` QR-ready wire format. Grounded on
// sigil-mother/src/agent_shard_encryption.rs in full.
package shard

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sigil-mpc/sigil/presig"
	"github.com/sigil-mpc/sigil/sigilerr"
)

// Version is the encrypted-shard wire format version.
const Version uint8 = 1

// Prefix identifies an encrypted agent shard in QR-encoded form.
const Prefix = "SIGIL:ESHARD:1:"

// PasscodeLength is the number of characters in a generated passcode.
const PasscodeLength = 24

// passcodeAlphabet excludes visually ambiguous characters (0/O, 1/I/L).
const passcodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Argon2id parameters, tuned for an air-gapped device with limited
// resources, matching sigil-mother/src/agent_shard_encryption.rs's
// ARGON2_MEMORY_KB/ARGON2_ITERATIONS/ARGON2_PARALLELISM.
const (
	argon2MemoryKB    = 64 * 1024
	argon2Iterations  = 3
	argon2Parallelism = 1
	argon2KeyLen      = 32
)

// Passcode is a generated high-entropy passcode. Its String method
// redacts the value so it never lands in a log line by accident; use
// Reveal to obtain the actual characters for display.
type Passcode string

func (p Passcode) String() string { return "Passcode([REDACTED])" }

// Reveal returns the raw passcode characters.
func (p Passcode) Reveal() string { return string(p) }

// DisplayFormatted groups the passcode into hyphen-separated
// four-character chunks for operator-friendly display.
func (p Passcode) DisplayFormatted() string {
	s := string(p)
	var groups []string
	for i := 0; i < len(s); i += 4 {
		end := i + 4
		if end > len(s) {
			end = len(s)
		}
		groups = append(groups, s[i:end])
	}
	return strings.Join(groups, "-")
}

// GeneratePasscode draws a PasscodeLength-character passcode from
// passcodeAlphabet using crypto/rand, rejecting biased bytes via
// rejection sampling.
func GeneratePasscode() (Passcode, error) {
	out := make([]byte, PasscodeLength)
	alphabetLen := byte(len(passcodeAlphabet))
	// 256 is not a multiple of 32 (alphabetLen); reject bytes in the
	// trailing partial range to avoid biasing low indices.
	limit := byte(256 - (256 % int(alphabetLen)))
	buf := make([]byte, 1)
	for i := range out {
		for {
			if _, err := rand.Read(buf); err != nil {
				return "", sigilerr.Wrap(sigilerr.Crypto, err, "read randomness")
			}
			if buf[0] < limit {
				out[i] = passcodeAlphabet[buf[0]%alphabetLen]
				break
			}
		}
	}
	return Passcode(out), nil
}

// AgentShardData is the plaintext payload carried inside an encrypted
// shard: the agent's presignature shares for one child plus enough
// context to confirm the right child received it.
type AgentShardData struct {
	ChildID        string              `json:"child_id"`
	PresigShares   []presig.AgentShare `json:"presig_shares"`
	CreatedAt      uint64              `json:"created_at"`
	DerivationPath string              `json:"derivation_path"`
}

// EncryptedAgentShard is the package actually serialized into the QR
// code: everything needed to decrypt given the out-of-band passcode.
type EncryptedAgentShard struct {
	Version      uint8  `json:"version"`
	Salt         []byte `json:"salt"`
	Nonce        []byte `json:"nonce"`
	Ciphertext   []byte `json:"ciphertext"`
	ChildIDShort string `json:"child_id_short"`
	PresigCount  uint32 `json:"presig_count"`
}

// deriveKey runs Argon2id over passcode and salt to produce a 32-byte
// ChaCha20-Poly1305 key.
func deriveKey(passcode string, salt []byte) []byte {
	return argon2.IDKey([]byte(passcode), salt, argon2Iterations, argon2MemoryKB, argon2Parallelism, argon2KeyLen)
}

// Sealed is a generic Argon2id+ChaCha20-Poly1305 ciphertext package:
// the same at-rest encryption primitive EncryptedAgentShard uses for
// QR transport, reused by the mother package to protect the master
// shard file on disk under an operator passphrase.
type Sealed struct {
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
}

// SealBytes derives a key from passphrase via Argon2id and seals
// plaintext with ChaCha20-Poly1305 under a fresh salt and nonce.
func SealBytes(plaintext []byte, passphrase string) (*Sealed, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, sigilerr.Wrap(sigilerr.Crypto, err, "read salt")
	}

	key := deriveKey(passphrase, salt)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, sigilerr.Wrap(sigilerr.Crypto, err, "construct aead")
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, sigilerr.Wrap(sigilerr.Crypto, err, "read nonce")
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return &Sealed{Salt: salt, Nonce: nonce, Ciphertext: ciphertext}, nil
}

// OpenBytes recovers the plaintext sealed by SealBytes given the same
// passphrase. A wrong passphrase or tampered ciphertext fails AEAD
// authentication.
func OpenBytes(sealed *Sealed, passphrase string) ([]byte, error) {
	key := deriveKey(passphrase, sealed.Salt)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, sigilerr.Wrap(sigilerr.Crypto, err, "construct aead")
	}

	plaintext, err := aead.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, sigilerr.Wrap(sigilerr.Crypto, err, "decryption failed, invalid passphrase")
	}
	return plaintext, nil
}

// Encrypt generates a fresh passcode, derives a key via Argon2id, and
// seals shardData with ChaCha20-Poly1305, returning the package ready
// for QR encoding plus the passcode to display out-of-band.
func Encrypt(shardData *AgentShardData) (*EncryptedAgentShard, Passcode, error) {
	passcode, err := GeneratePasscode()
	if err != nil {
		return nil, "", err
	}

	plaintext, err := json.Marshal(shardData)
	if err != nil {
		return nil, "", sigilerr.Wrap(sigilerr.Storage, err, "marshal shard data")
	}

	sealed, err := SealBytes(plaintext, passcode.Reveal())
	if err != nil {
		return nil, "", err
	}

	shortLen := 8
	if len(shardData.ChildID) < shortLen {
		shortLen = len(shardData.ChildID)
	}

	return &EncryptedAgentShard{
		Version:      Version,
		Salt:         sealed.Salt,
		Nonce:        sealed.Nonce,
		Ciphertext:   sealed.Ciphertext,
		ChildIDShort: shardData.ChildID[:shortLen],
		PresigCount:  uint32(len(shardData.PresigShares)),
	}, passcode, nil
}

// Decrypt recovers the plaintext shard data given the out-of-band
// passcode. A wrong passcode or tampered ciphertext fails AEAD
// authentication and returns a Crypto-kind error.
func Decrypt(encrypted *EncryptedAgentShard, passcode string) (*AgentShardData, error) {
	sealed := &Sealed{Salt: encrypted.Salt, Nonce: encrypted.Nonce, Ciphertext: encrypted.Ciphertext}
	plaintext, err := OpenBytes(sealed, passcode)
	if err != nil {
		return nil, err
	}

	var data AgentShardData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, sigilerr.Wrap(sigilerr.Storage, err, "unmarshal shard data")
	}
	return &data, nil
}

// EncodeForQR serializes an encrypted shard to its QR-ready wire
// string.
func EncodeForQR(encrypted *EncryptedAgentShard) (string, error) {
	raw, err := json.Marshal(encrypted)
	if err != nil {
		return "", sigilerr.Wrap(sigilerr.Storage, err, "marshal encrypted shard")
	}
	return Prefix + base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeFromQR parses the wire string produced by EncodeForQR.
func DecodeFromQR(qrData string) (*EncryptedAgentShard, error) {
	rest, ok := strings.CutPrefix(qrData, Prefix)
	if !ok {
		return nil, sigilerr.New(sigilerr.InvalidInput, "invalid encrypted shard prefix")
	}

	raw, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return nil, sigilerr.Wrap(sigilerr.InvalidInput, err, "base64 decode encrypted shard")
	}

	var encrypted EncryptedAgentShard
	if err := json.Unmarshal(raw, &encrypted); err != nil {
		return nil, sigilerr.Wrap(sigilerr.Storage, err, "unmarshal encrypted shard")
	}
	return &encrypted, nil
}

// EstimateQRSize roughly predicts the encoded QR payload size for a
// shard carrying presigCount shares, matching the original source's
// per-share/overhead estimate used to pick a QR error-correction level.
func EstimateQRSize(presigCount uint32) int {
	return (int(presigCount)*110+100)*4/3 + 50
}
