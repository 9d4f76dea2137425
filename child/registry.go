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

package child

import (
	"github.com/sigil-mpc/sigil/keys"
	"github.com/sigil-mpc/sigil/sigilerr"
)

// Registry tracks every child disk a mother has created, enforcing
// both child-id and derivation-path uniqueness, matching
// sigil-mother/src/registry.rs's ChildRegistry.
type Registry struct {
	Children  map[string]*RegistryEntry `json:"children"`
	UsedPaths []string                  `json:"used_paths"`
}

func NewRegistry() *Registry {
	return &Registry{Children: make(map[string]*RegistryEntry)}
}

// Register adds a new child entry, rejecting a reused child id or
// derivation path.
func (r *Registry) Register(childID keys.ChildId, derivationPath string, createdAt uint64) (*RegistryEntry, error) {
	idHex := childID.Hex()
	if _, exists := r.Children[idHex]; exists {
		return nil, sigilerr.New(sigilerr.ChildAlreadyExists, idHex)
	}
	for _, p := range r.UsedPaths {
		if p == derivationPath {
			return nil, sigilerr.New(sigilerr.InvalidInput, "derivation path already used: "+derivationPath)
		}
	}

	entry := NewRegistryEntry(childID, derivationPath, createdAt)
	r.Children[idHex] = entry
	r.UsedPaths = append(r.UsedPaths, derivationPath)
	return entry, nil
}

func (r *Registry) Get(childID keys.ChildId) (*RegistryEntry, error) {
	entry, ok := r.Children[childID.Hex()]
	if !ok {
		return nil, sigilerr.New(sigilerr.NotFound, "child not registered: "+childID.Hex())
	}
	return entry, nil
}

func (r *Registry) CanSign(childID keys.ChildId) (bool, error) {
	entry, err := r.Get(childID)
	if err != nil {
		return false, err
	}
	return entry.CanSign(), nil
}

func (r *Registry) Nullify(childID keys.ChildId, reason NullificationReason, timestamp uint64, lastValidPresigIndex uint32) error {
	entry, err := r.Get(childID)
	if err != nil {
		return err
	}
	if entry.IsNullified() {
		return sigilerr.New(sigilerr.ChildNullified, childID.Hex())
	}
	entry.Nullify(reason, timestamp, lastValidPresigIndex)
	return nil
}

func (r *Registry) Suspend(childID keys.ChildId) error {
	entry, err := r.Get(childID)
	if err != nil {
		return err
	}
	if entry.IsNullified() {
		return sigilerr.New(sigilerr.ChildNullified, childID.Hex())
	}
	entry.Suspend()
	return nil
}

func (r *Registry) Reactivate(childID keys.ChildId) error {
	entry, err := r.Get(childID)
	if err != nil {
		return err
	}
	if !entry.CanReactivate() {
		return sigilerr.New(sigilerr.ChildNullified, childID.Hex())
	}
	entry.Reactivate()
	return nil
}

func (r *Registry) RecordReconciliation(childID keys.ChildId, timestamp uint64, signaturesSinceLast uint32) error {
	entry, err := r.Get(childID)
	if err != nil {
		return err
	}
	entry.RecordReconciliation(timestamp, signaturesSinceLast)
	return nil
}

func (r *Registry) RecordRefill(childID keys.ChildId, reconciledThroughIndex uint32) error {
	entry, err := r.Get(childID)
	if err != nil {
		return err
	}
	entry.RecordRefill(reconciledThroughIndex)
	return nil
}

// ListActive returns every child currently able to sign.
func (r *Registry) ListActive() []*RegistryEntry {
	var out []*RegistryEntry
	for _, e := range r.Children {
		if e.CanSign() {
			out = append(out, e)
		}
	}
	return out
}

// CountByStatus returns the number of Active, Suspended, and Nullified
// children respectively.
func (r *Registry) CountByStatus() (active, suspended, nullified int) {
	for _, e := range r.Children {
		switch e.Status {
		case Active:
			active++
		case Suspended:
			suspended++
		case Nullified:
			nullified++
		}
	}
	return
}
