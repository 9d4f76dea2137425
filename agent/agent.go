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

// Package agent holds agent-side identity, the mother-local agent
// registry entry, and the hot presignature store, grounded on
// sigil-core/src/agent.rs and sigil-core/src/mpc.rs's AgentPresigStore.
package agent

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/sigil-mpc/sigil/curve"
	"github.com/sigil-mpc/sigil/keys"
	"github.com/sigil-mpc/sigil/sigilerr"
)

// Id is the stable identifier of an agent: SHA-256 of its public key.
type Id chainhash.Hash

func IdFromPublicKey(pk keys.PublicKey) Id {
	return Id(curve.SHA256(pk.Bytes()))
}

func IdFromHex(s string) (Id, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Id{}, sigilerr.Wrap(sigilerr.InvalidInput, err, "decode agent id hex")
	}
	if len(b) != chainhash.HashSize {
		return Id{}, sigilerr.New(sigilerr.InvalidInput, "agent id must be 32 bytes")
	}
	var id Id
	copy(id[:], b)
	return id, nil
}

// Hex encodes the id in natural byte order so Short is the id's
// leading bytes.
func (id Id) Hex() string { return hex.EncodeToString(id[:]) }

// Short returns the first 4 bytes, hex-encoded, matching AgentId::short
// in the original source.
func (id Id) Short() string { return id.Hex()[:8] }

func (id Id) Bytes() [32]byte { return id }

// MarshalJSON encodes the agent id as its hex string, so the mother's
// plaintext agent_registry.json stays human-readable.
func (id Id) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.Hex() + `"`), nil
}

func (id *Id) UnmarshalJSON(b []byte) error {
	if len(b) < 2 {
		return sigilerr.New(sigilerr.InvalidInput, "malformed agent id JSON")
	}
	decoded, err := IdFromHex(string(b[1 : len(b)-1]))
	if err != nil {
		return err
	}
	*id = decoded
	return nil
}

// Status is the lifecycle state of an agent.
type Status int

const (
	Active Status = iota
	Suspended
	Nullified
)

// NullificationInfo records when and at what accumulator version an
// agent was nullified.
type NullificationInfo struct {
	Timestamp          uint64
	NullifiedAtVersion uint64
}

// Metadata is operator-supplied descriptive data about an agent,
// matching sigil-core/src/agent.rs's AgentMetadata.
type Metadata struct {
	Description string
	Tags        []string
	Host        string
	Custom      map[string]string
}

// RegistryEntry is the mother-local view of an agent: identity,
// lifecycle status, authorized children, and activity counters.
type RegistryEntry struct {
	AgentID            Id
	Name               string
	Status             Status
	Nullification      NullificationInfo
	CreatedAt          uint64
	AuthorizedChildren []keys.ChildId
	Metadata           Metadata
	TotalSignatures    uint64
	LastActivity       uint64
	HasLastActivity    bool
}

func NewRegistryEntry(id Id, name string, createdAt uint64) *RegistryEntry {
	return &RegistryEntry{
		AgentID:   id,
		Name:      name,
		Status:    Active,
		CreatedAt: createdAt,
	}
}

// CanSign reports whether this agent may participate in a signing
// ceremony.
func (e *RegistryEntry) CanSign() bool { return e.Status == Active }

func (e *RegistryEntry) CanReactivate() bool { return e.Status == Suspended }

func (e *RegistryEntry) IsNullified() bool { return e.Status == Nullified }

// AuthorizeChild grants this agent permission to hold hot shares for
// childID, a no-op if already authorized.
func (e *RegistryEntry) AuthorizeChild(childID keys.ChildId) {
	for _, c := range e.AuthorizedChildren {
		if c == childID {
			return
		}
	}
	e.AuthorizedChildren = append(e.AuthorizedChildren, childID)
}

// RevokeChild removes childID from this agent's authorized set.
func (e *RegistryEntry) RevokeChild(childID keys.ChildId) {
	out := e.AuthorizedChildren[:0]
	for _, c := range e.AuthorizedChildren {
		if c != childID {
			out = append(out, c)
		}
	}
	e.AuthorizedChildren = out
}

func (e *RegistryEntry) IsChildAuthorized(childID keys.ChildId) bool {
	for _, c := range e.AuthorizedChildren {
		if c == childID {
			return true
		}
	}
	return false
}

// RecordSignature bumps the signature counter and last-activity
// timestamp after a completed ceremony.
func (e *RegistryEntry) RecordSignature(timestamp uint64) {
	e.TotalSignatures++
	e.LastActivity = timestamp
	e.HasLastActivity = true
}

// Suspend transitions an Active agent to Suspended; a no-op on any
// other status.
func (e *RegistryEntry) Suspend() {
	if e.Status == Active {
		e.Status = Suspended
	}
}

// Reactivate transitions a Suspended agent back to Active, reporting
// whether the transition happened.
func (e *RegistryEntry) Reactivate() bool {
	if e.Status == Suspended {
		e.Status = Active
		return true
	}
	return false
}

// Nullify permanently revokes this agent. Terminal: callers must not
// attempt Suspend/Reactivate afterwards.
func (e *RegistryEntry) Nullify(timestamp, accumulatorVersion uint64) {
	e.Status = Nullified
	e.Nullification = NullificationInfo{Timestamp: timestamp, NullifiedAtVersion: accumulatorVersion}
}
