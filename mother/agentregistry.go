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

package mother

import (
	"sync"

	"github.com/sigil-mpc/sigil/accumulator"
	"github.com/sigil-mpc/sigil/agent"
	"github.com/sigil-mpc/sigil/keys"
	"github.com/sigil-mpc/sigil/sigilerr"
)

// AgentRegistry is the mother-local collection of agent registry
// entries plus the RSA dynamic accumulator those entries are nullified
// into, matching sigil-mother/src/agent_registry.rs's AgentRegistry and
// spec.md §4.6's witness cache. Mutation (registration, nullification)
// takes the write lock; witness issuance/lookup takes the read lock,
// per spec.md §5's "accumulator mutation additionally serializes all
// witness issuance during its critical section".
type AgentRegistry struct {
	mu      sync.RWMutex
	agents  map[agent.Id]*agent.RegistryEntry
	acc     *accumulator.Accumulator
	witness map[agent.Id]*accumulator.NonMembershipWitness
}

// NewAgentRegistry creates an empty registry bound to acc, the
// mother's accumulator state.
func NewAgentRegistry(acc *accumulator.Accumulator) *AgentRegistry {
	return &AgentRegistry{
		agents:  make(map[agent.Id]*agent.RegistryEntry),
		acc:     acc,
		witness: make(map[agent.Id]*accumulator.NonMembershipWitness),
	}
}

// Accumulator returns the registry's backing accumulator state.
func (r *AgentRegistry) Accumulator() *accumulator.Accumulator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.acc
}

// Register adds a new, Active agent entry, rejecting a duplicate id.
func (r *AgentRegistry) Register(id agent.Id, name string, createdAt uint64) (*agent.RegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[id]; exists {
		return nil, sigilerr.New(sigilerr.AgentAlreadyExists, id.Hex())
	}
	entry := agent.NewRegistryEntry(id, name, createdAt)
	r.agents[id] = entry
	return entry, nil
}

func (r *AgentRegistry) Get(id agent.Id) (*agent.RegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[id]
	if !ok {
		return nil, sigilerr.New(sigilerr.NotFound, "agent not registered: "+id.Hex())
	}
	return e, nil
}

func (r *AgentRegistry) AuthorizeChild(id agent.Id, childID keys.ChildId) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[id]
	if !ok {
		return sigilerr.New(sigilerr.NotFound, "agent not registered: "+id.Hex())
	}
	e.AuthorizeChild(childID)
	return nil
}

func (r *AgentRegistry) Suspend(id agent.Id) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[id]
	if !ok {
		return sigilerr.New(sigilerr.NotFound, "agent not registered: "+id.Hex())
	}
	if e.IsNullified() {
		return sigilerr.New(sigilerr.AgentNullified, id.Hex())
	}
	e.Suspend()
	return nil
}

func (r *AgentRegistry) Reactivate(id agent.Id) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[id]
	if !ok {
		return sigilerr.New(sigilerr.NotFound, "agent not registered: "+id.Hex())
	}
	if !e.CanReactivate() {
		return sigilerr.New(sigilerr.AgentNullified, id.Hex())
	}
	e.Reactivate()
	return nil
}

// Nullify terminally revokes agent id: folds its prime into the
// accumulator, bumps the version, marks the registry entry Nullified,
// and drops any cached witness (now unsound, since the agent itself is
// nullified). Per spec.md §4.6, every other active agent's cached
// witness becomes stale at the new version but is left in the cache
// for RefreshWitness to recompute on demand rather than evicted here.
func (r *AgentRegistry) Nullify(id agent.Id, timestamp uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[id]
	if !ok {
		return sigilerr.New(sigilerr.NotFound, "agent not registered: "+id.Hex())
	}
	if e.IsNullified() {
		return sigilerr.New(sigilerr.AgentNullified, id.Hex())
	}

	r.acc.Add(id.Bytes())
	e.Nullify(timestamp, r.acc.Version)
	delete(r.witness, id)
	return nil
}

// IssueWitness issues (or returns the cached current-version) witness
// for id. Nullified agents cannot be issued one.
func (r *AgentRegistry) IssueWitness(id agent.Id) (*accumulator.NonMembershipWitness, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[id]
	if !ok {
		return nil, sigilerr.New(sigilerr.NotFound, "agent not registered: "+id.Hex())
	}
	if e.IsNullified() {
		return nil, sigilerr.New(sigilerr.AgentNullified, id.Hex())
	}
	if cached, ok := r.witness[id]; ok && cached.Version == r.acc.Version {
		return cached, nil
	}
	w, err := accumulator.IssueWitness(r.acc, id.Bytes())
	if err != nil {
		return nil, err
	}
	r.witness[id] = w
	return w, nil
}

// RefreshWitness forces recomputation of id's witness against the
// current accumulator state, matching spec.md §4.6's "mother reissues
// witnesses on demand" witness-update path.
func (r *AgentRegistry) RefreshWitness(id agent.Id) (*accumulator.NonMembershipWitness, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[id]
	if !ok {
		return nil, sigilerr.New(sigilerr.NotFound, "agent not registered: "+id.Hex())
	}
	if e.IsNullified() {
		return nil, sigilerr.New(sigilerr.AgentNullified, id.Hex())
	}
	w, err := accumulator.UpdateWitness(r.acc, id.Bytes())
	if err != nil {
		return nil, err
	}
	r.witness[id] = w
	return w, nil
}

// StaleAgents returns the ids of every active agent whose cached
// witness trails the accumulator's current version, the set that needs
// RefreshWitness after a nullification, matching spec.md §4.6's "every
// active witness becomes stale" consequence of Nullify.
func (r *AgentRegistry) StaleAgents() []agent.Id {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var stale []agent.Id
	for id, e := range r.agents {
		if e.IsNullified() {
			continue
		}
		w, ok := r.witness[id]
		if !ok || w.Version < r.acc.Version {
			stale = append(stale, id)
		}
	}
	return stale
}
