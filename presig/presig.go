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

// Package presig implements batched presignature generation: paired
// (cold, agent) nonce shares whose points sum to a shared R, grounded
// on sigil-mother/src/presig_gen.rs.
package presig

import (
	"crypto/rand"
	"math/big"

	"github.com/sigil-mpc/sigil/curve"
	"github.com/sigil-mpc/sigil/keys"
	"github.com/sigil-mpc/sigil/sigilerr"
)

// Status is the lifecycle state of a single presignature slot.
type Status uint8

const (
	Fresh Status = iota
	Used
	// Poisoned marks a presig whose self-verification failed; per
	// spec.md §7 it must never be treated as reusable, and reconciling
	// the disk is required before the child can sign again.
	Poisoned
)

// ColdShare is the disk-resident half of a presignature.
type ColdShare struct {
	R       [33]byte
	KCold   [32]byte
	ChiCold [32]byte
	Status  Status
}

// AgentShare is the agent-resident half of a presignature.
type AgentShare struct {
	R        [33]byte
	KAgent   [32]byte
	ChiAgent [32]byte
}

// Pair is one generated presignature, before being split for
// transport to disk and agent respectively.
type Pair struct {
	Cold  ColdShare
	Agent AgentShare
}

func drawScalar() (*big.Int, error) {
	for {
		var buf [32]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return nil, sigilerr.Wrap(sigilerr.Crypto, err, "read randomness")
		}
		s := new(big.Int).SetBytes(buf[:])
		if s.Sign() == 0 || s.Cmp(curve.N()) >= 0 {
			continue
		}
		return s, nil
	}
}

// GenerateSingle draws k_cold, k_agent and computes the shared nonce
// point R = (k_cold + k_agent)*G, restating each side's chi share
// (the child shard scalar contribution) alongside it, per spec.md §4.2.
func GenerateSingle(coldChild, agentChild *keys.ChildShard) (Pair, error) {
	kCold, err := drawScalar()
	if err != nil {
		return Pair{}, err
	}
	kAgent, err := drawScalar()
	if err != nil {
		return Pair{}, err
	}

	k := new(big.Int).Add(kCold, kAgent)
	k.Mod(k, curve.N())
	if k.Sign() == 0 {
		return Pair{}, sigilerr.New(sigilerr.NonceIsZero, "combined nonce reduced to zero")
	}

	rCompressed := curve.ScalarBaseMult(k)

	var pair Pair
	copy(pair.Cold.R[:], rCompressed)
	kCold.FillBytes(pair.Cold.KCold[:])
	pair.Cold.ChiCold = coldChild.Secret
	pair.Cold.Status = Fresh

	copy(pair.Agent.R[:], rCompressed)
	kAgent.FillBytes(pair.Agent.KAgent[:])
	pair.Agent.ChiAgent = agentChild.Secret

	return pair, nil
}

// GenerateBatch generates count presignature pairs for a derived
// child shard pair.
func GenerateBatch(coldChild, agentChild *keys.ChildShard, count int) ([]Pair, error) {
	if count <= 0 {
		return nil, sigilerr.New(sigilerr.InvalidInput, "presig count must be positive")
	}
	pairs := make([]Pair, count)
	for i := 0; i < count; i++ {
		p, err := GenerateSingle(coldChild, agentChild)
		if err != nil {
			return nil, err
		}
		pairs[i] = p
	}
	return pairs, nil
}

// SplitShares separates a batch of pairs into the cold shares that go
// on disk and the agent shares that go to the agent's hot store.
func SplitShares(pairs []Pair) ([]ColdShare, []AgentShare) {
	cold := make([]ColdShare, len(pairs))
	agent := make([]AgentShare, len(pairs))
	for i, p := range pairs {
		cold[i] = p.Cold
		agent[i] = p.Agent
	}
	return cold, agent
}
