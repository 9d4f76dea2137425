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

// Package mother implements the mother device's session, registries,
// and ceremonies (§4.5, §4.6, §6): the offline authority that
// originates key material, creates and reconciles child disks, and
// nullifies agents. Grounded on sigil-mother/src/{storage,keygen,
// registry,agent_registry,nullification,accumulator_publish,
// ceremony}.rs, with every placeholder in those files replaced by real
// cryptography (see DESIGN.md).
package mother

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/sigil-mpc/sigil/agent"
	"github.com/sigil-mpc/sigil/child"
	"github.com/sigil-mpc/sigil/keys"
	"github.com/sigil-mpc/sigil/shard"
	"github.com/sigil-mpc/sigil/sigilerr"
)

// storage is the mother's atomic, on-disk persisted state layout,
// matching spec.md §6's "Environment / persisted state layout" and
// sigil-mother/src/storage.rs's MotherStorage.
type storage struct {
	basePath string
}

func newStorage(basePath string) (*storage, error) {
	if err := os.MkdirAll(basePath, 0o700); err != nil {
		return nil, sigilerr.Wrap(sigilerr.Io, err, "create mother base directory")
	}
	if err := os.MkdirAll(filepath.Join(basePath, "reconciliation_logs"), 0o700); err != nil {
		return nil, sigilerr.Wrap(sigilerr.Io, err, "create reconciliation log directory")
	}
	return &storage{basePath: basePath}, nil
}

func (s *storage) masterShardPath() string   { return filepath.Join(s.basePath, "master_shard.enc") }
func (s *storage) childRegistryPath() string { return filepath.Join(s.basePath, "child_registry.json") }
func (s *storage) agentRegistryPath() string { return filepath.Join(s.basePath, "agent_registry.json") }

// masterState is the mother's private (cold-side) master key-generation
// state: the cold master shard plus the ceremony's monotonic child
// index allocator, matching sigil-mother/src/storage.rs's
// MasterShardData (the next_child_index field here is spec.md §3's
// "monotonic next_child_index" on MasterShard).
type masterState struct {
	Master         *keys.MasterShard
	NextChildIndex uint32
}

// encode serializes masterState to a flat binary blob: 32-byte secret,
// 8-byte created_at, 4-byte next_child_index, all little-endian. This
// is sealed under a passphrase before ever touching disk, so there is
// no need for a self-describing (JSON) encoding here.
func (m *masterState) encode() []byte {
	out := make([]byte, 32+8+4)
	copy(out[:32], m.Master.Secret[:])
	binary.LittleEndian.PutUint64(out[32:40], m.Master.CreatedAt)
	binary.LittleEndian.PutUint32(out[40:44], m.NextChildIndex)
	return out
}

func decodeMasterState(b []byte) (*masterState, error) {
	if len(b) != 32+8+4 {
		return nil, sigilerr.New(sigilerr.Storage, "malformed master shard state")
	}
	m := &masterState{Master: &keys.MasterShard{}}
	copy(m.Master.Secret[:], b[:32])
	m.Master.CreatedAt = binary.LittleEndian.Uint64(b[32:40])
	m.NextChildIndex = binary.LittleEndian.Uint32(b[40:44])
	return m, nil
}

// hasMasterShard reports whether a master shard has already been
// generated for this mother instance.
func (s *storage) hasMasterShard() bool {
	_, err := os.Stat(s.masterShardPath())
	return err == nil
}

// saveMasterShard seals state under passphrase (Argon2id + ChaCha20-
// Poly1305, matching shard.SealBytes, the same primitive the encrypted
// agent-shard transport package uses) and writes it atomically.
func (s *storage) saveMasterShard(state *masterState, passphrase string) error {
	sealed, err := shard.SealBytes(state.encode(), passphrase)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(sealed)
	if err != nil {
		return sigilerr.Wrap(sigilerr.Storage, err, "marshal sealed master shard")
	}
	return writeAtomicJSON(s.masterShardPath(), raw, 0o600)
}

// loadMasterShard reads and unseals the master shard file. A wrong
// passphrase fails AEAD authentication and surfaces as a Crypto error.
func (s *storage) loadMasterShard(passphrase string) (*masterState, error) {
	raw, err := os.ReadFile(s.masterShardPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, sigilerr.New(sigilerr.NotFound, "master shard not initialized")
		}
		return nil, sigilerr.Wrap(sigilerr.Io, err, "read master shard file")
	}
	var sealed shard.Sealed
	if err := json.Unmarshal(raw, &sealed); err != nil {
		return nil, sigilerr.Wrap(sigilerr.Storage, err, "unmarshal sealed master shard")
	}
	plaintext, err := shard.OpenBytes(&sealed, passphrase)
	if err != nil {
		return nil, err
	}
	return decodeMasterState(plaintext)
}

func (s *storage) saveChildRegistry(reg *child.Registry) error {
	raw, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return sigilerr.Wrap(sigilerr.Storage, err, "marshal child registry")
	}
	return writeAtomicJSON(s.childRegistryPath(), raw, 0o644)
}

func (s *storage) loadChildRegistry() (*child.Registry, error) {
	raw, err := os.ReadFile(s.childRegistryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return child.NewRegistry(), nil
		}
		return nil, sigilerr.Wrap(sigilerr.Io, err, "read child registry")
	}
	reg := child.NewRegistry()
	if err := json.Unmarshal(raw, reg); err != nil {
		return nil, sigilerr.Wrap(sigilerr.Storage, err, "unmarshal child registry")
	}
	return reg, nil
}

// agentRegistryFile is the on-disk shape of the agent registry plus
// the accumulator snapshot it is persisted alongside, matching
// spec.md §6's "agent_registry.json — plaintext registry + accumulator
// snapshot".
type agentRegistryFile struct {
	Agents         map[string]*agent.RegistryEntry `json:"agents"`
	AccumulatorN   string                          `json:"accumulator_n"`
	AccumulatorG   string                          `json:"accumulator_g"`
	AccumulatorA   string                          `json:"accumulator_a"`
	AccumulatorVer uint64                          `json:"accumulator_version"`
}

func (s *storage) saveAgentRegistry(f *agentRegistryFile) error {
	raw, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return sigilerr.Wrap(sigilerr.Storage, err, "marshal agent registry")
	}
	return writeAtomicJSON(s.agentRegistryPath(), raw, 0o644)
}

func (s *storage) loadAgentRegistry() (*agentRegistryFile, error) {
	raw, err := os.ReadFile(s.agentRegistryPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, sigilerr.Wrap(sigilerr.Io, err, "read agent registry")
	}
	var f agentRegistryFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, sigilerr.Wrap(sigilerr.Storage, err, "unmarshal agent registry")
	}
	return &f, nil
}

// saveReconciliationLog persists a reconciliation ceremony's report as
// a standalone file, matching sigil-mother/src/ceremony.rs's
// save_reconciliation_log and spec.md §6's
// "reconciliation_logs/<child>_<ts>.log" layout.
func (s *storage) saveReconciliationLog(childShort string, timestamp uint64, content []byte) error {
	name := childShort + "_" + itoa64(timestamp) + ".log"
	path := filepath.Join(s.basePath, "reconciliation_logs", name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return sigilerr.Wrap(sigilerr.Io, err, "write reconciliation log")
	}
	return nil
}

// writeAtomicJSON writes raw to path via a sibling temp file, fsync,
// then rename, matching the write-temp/fsync/rename discipline used
// everywhere else in this module (disk.WriteAtomic is the same shape
// for the binary disk format).
func writeAtomicJSON(path string, raw []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".sigil-mother-*.tmp")
	if err != nil {
		return sigilerr.Wrap(sigilerr.Io, err, "create temp file")
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return sigilerr.Wrap(sigilerr.Io, err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return sigilerr.Wrap(sigilerr.Io, err, "fsync temp file")
	}
	if err := tmp.Close(); err != nil {
		return sigilerr.Wrap(sigilerr.Io, err, "close temp file")
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return errors.Wrap(err, "chmod temp file")
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return sigilerr.Wrap(sigilerr.Io, err, "rename temp file into place")
	}
	return nil
}

func itoa64(v uint64) string {
	if v == 0 {
		return "0"
	}
	var digits [20]byte
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[i:])
}
