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
	"sync"

	"github.com/sigil-mpc/sigil/keys"
	"github.com/sigil-mpc/sigil/presig"
	"github.com/sigil-mpc/sigil/sigilerr"
)

// PresigStore is the hot-side (agent-resident) store of presignature
// shares for one child, matching spec.md §3's "AgentStore entry":
// the full list of agent shares plus a monotonic cursor. Each child's
// entry is separately lockable per spec.md §5.
type PresigStore struct {
	mu      sync.Mutex
	ChildID keys.ChildId
	Shares  []presig.AgentShare
	Next    int
}

// NewPresigStore creates a store holding shares for a freshly created
// or refilled child disk.
func NewPresigStore(childID keys.ChildId, shares []presig.AgentShare) *PresigStore {
	return &PresigStore{ChildID: childID, Shares: shares}
}

// TotalPresigs returns the number of shares ever loaded into this
// store (not the number remaining).
func (s *PresigStore) TotalPresigs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Shares)
}

// NextPresigIndex returns the store's cursor, the index of the next
// share ShareAt will hand out. This must track the disk's own
// lowest-fresh selection (disk.Format.SelectFresh); callers are
// responsible for keeping the two in lockstep by only ever advancing
// in response to a disk-confirmed completion.
func (s *PresigStore) NextPresigIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Next
}

// ShareAt returns the agent share at the given presig index, the
// counterpart the disk's cold share at the same index is combined
// with during signing. It does not itself advance the cursor; callers
// call Advance once the disk-side MarkUsed has succeeded.
func (s *PresigStore) ShareAt(index int) (presig.AgentShare, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.Shares) {
		return presig.AgentShare{}, sigilerr.New(sigilerr.InvalidInput, "presig index out of range")
	}
	return s.Shares[index], nil
}

// Advance moves the cursor forward past index, matching the
// monotonic non-decreasing selection guarantee of spec.md §5 (the
// lowest-unused index is always chosen next).
func (s *PresigStore) Advance(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index+1 > s.Next {
		s.Next = index + 1
	}
}

// Replace swaps in a new batch of shares after a refill, resetting the
// cursor to zero.
func (s *PresigStore) Replace(shares []presig.AgentShare) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Shares = shares
	s.Next = 0
}

// Zeroize overwrites every held agent share's secret material, called
// when a child entry is deleted from the store.
func (s *PresigStore) Zeroize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.Shares {
		for j := range s.Shares[i].KAgent {
			s.Shares[i].KAgent[j] = 0
		}
		for j := range s.Shares[i].ChiAgent {
			s.Shares[i].ChiAgent[j] = 0
		}
	}
	s.Shares = nil
}

// Registry is the daemon-side collection of PresigStore entries keyed
// by child, matching sigil-core/src/mpc.rs's AgentPresigStore map
// shape. Each entry is independently lockable; the registry's own
// mutex only protects the map structure itself.
type Registry struct {
	mu      sync.Mutex
	entries map[keys.ChildId]*PresigStore
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[keys.ChildId]*PresigStore)}
}

func (r *Registry) Put(store *PresigStore) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[store.ChildID] = store
}

func (r *Registry) Get(childID keys.ChildId) (*PresigStore, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.entries[childID]
	return s, ok
}

// Delete removes and zeroizes a child's hot-share entry.
func (r *Registry) Delete(childID keys.ChildId) {
	r.mu.Lock()
	store, ok := r.entries[childID]
	delete(r.entries, childID)
	r.mu.Unlock()
	if ok {
		store.Zeroize()
	}
}
