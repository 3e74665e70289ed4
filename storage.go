// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package omnipool

import (
	"encoding/binary"
	"sort"

	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"
)

// StateStore is a flat 32-byte-word key/value store the ledger persists
// into, typically backed by a state trie.
type StateStore interface {
	GetState(key [32]byte) [32]byte
	SetState(key [32]byte, value [32]byte)
}

// Storage key prefixes for ledger state
var (
	poolMetaPrefix   = []byte("meta")
	poolIssuancePref = []byte("issu")
	assetIndexPrefix = []byte("aidx")
	assetStatePrefix = []byte("asst")
)

// Per-asset storage slots
const (
	slotReserve = iota
	slotHubReserve
	slotShares
	slotProtocolShares
	slotAssetMeta
)

// makeStorageKey creates a storage key from a prefix and identifiers
func makeStorageKey(prefix []byte, ids ...uint32) [32]byte {
	h := blake3.New()
	h.Write(prefix)
	var buf [4]byte
	for _, id := range ids {
		binary.BigEndian.PutUint32(buf[:], id)
		h.Write(buf[:])
	}
	var key [32]byte
	h.Digest().Read(key[:])
	return key
}

// SaveTo writes the ledger's asset states, issuance and block height to
// the store. The per-block flow accumulators are transient and are not
// persisted.
func (l *Ledger) SaveTo(store StateStore) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	// Stable iteration: sorted by asset id.
	ids := make([]AssetID, 0, len(l.assets))
	for id := range l.assets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var meta [32]byte
	binary.BigEndian.PutUint64(meta[0:8], uint64(len(ids)))
	binary.BigEndian.PutUint64(meta[8:16], l.currentBlock)
	store.SetState(makeStorageKey(poolMetaPrefix), meta)

	store.SetState(makeStorageKey(poolIssuancePref), l.issuance.Bytes32())

	for i, id := range ids {
		var idWord [32]byte
		binary.BigEndian.PutUint32(idWord[0:4], uint32(id))
		store.SetState(makeStorageKey(assetIndexPrefix, uint32(i)), idWord)

		state := l.assets[id]
		store.SetState(makeStorageKey(assetStatePrefix, uint32(id), slotReserve), state.Reserve.Bytes32())
		store.SetState(makeStorageKey(assetStatePrefix, uint32(id), slotHubReserve), state.HubReserve.Bytes32())
		store.SetState(makeStorageKey(assetStatePrefix, uint32(id), slotShares), state.Shares.Bytes32())
		store.SetState(makeStorageKey(assetStatePrefix, uint32(id), slotProtocolShares), state.ProtocolShares.Bytes32())

		var assetMeta [32]byte
		binary.BigEndian.PutUint64(assetMeta[0:8], state.Cap)
		assetMeta[8] = byte(state.Tradable)
		store.SetState(makeStorageKey(assetStatePrefix, uint32(id), slotAssetMeta), assetMeta)
	}
}

// LoadFrom replaces the ledger's asset states, issuance and block height
// with what the store holds. The flow accumulators reset to the loaded
// hub reserves on first use.
func (l *Ledger) LoadFrom(store StateStore) {
	l.mu.Lock()
	defer l.mu.Unlock()

	meta := store.GetState(makeStorageKey(poolMetaPrefix))
	count := binary.BigEndian.Uint64(meta[0:8])
	l.currentBlock = binary.BigEndian.Uint64(meta[8:16])

	issuance := store.GetState(makeStorageKey(poolIssuancePref))
	l.issuance = new(uint256.Int).SetBytes32(issuance[:])

	l.assets = make(map[AssetID]*AssetReserveState, count)
	l.blockStates = make(map[AssetID]*HubAssetBlockState)

	for i := uint64(0); i < count; i++ {
		idWord := store.GetState(makeStorageKey(assetIndexPrefix, uint32(i)))
		id := AssetID(binary.BigEndian.Uint32(idWord[0:4]))

		state := NewAssetReserveState()
		w := store.GetState(makeStorageKey(assetStatePrefix, uint32(id), slotReserve))
		state.Reserve.SetBytes32(w[:])
		w = store.GetState(makeStorageKey(assetStatePrefix, uint32(id), slotHubReserve))
		state.HubReserve.SetBytes32(w[:])
		w = store.GetState(makeStorageKey(assetStatePrefix, uint32(id), slotShares))
		state.Shares.SetBytes32(w[:])
		w = store.GetState(makeStorageKey(assetStatePrefix, uint32(id), slotProtocolShares))
		state.ProtocolShares.SetBytes32(w[:])

		assetMeta := store.GetState(makeStorageKey(assetStatePrefix, uint32(id), slotAssetMeta))
		state.Cap = binary.BigEndian.Uint64(assetMeta[0:8])
		state.Tradable = Tradability(assetMeta[8])

		l.assets[id] = state
	}
}

// MemStore is an in-memory StateStore.
type MemStore struct {
	words map[[32]byte][32]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{words: make(map[[32]byte][32]byte)}
}

func (m *MemStore) GetState(key [32]byte) [32]byte { return m.words[key] }
func (m *MemStore) SetState(key, value [32]byte)   { m.words[key] = value }
