// Package proctable persists the procedure table and the two kernel
// registers (entry and current procedure) in a kvdb.Database.
package proctable

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/xuperchain/capkernel/kernel/capability"
	"github.com/xuperchain/capkernel/kernel/common/xident"
	"github.com/xuperchain/capkernel/lib/metrics"
	"github.com/xuperchain/capkernel/lib/storage/kvdb"
)

var (
	ErrInvalidCapabilityList = errors.New("invalid capability list")
	ErrProcedureNotFound     = errors.New("procedure not found")
	ErrEntryProcedure        = errors.New("entry procedure cannot be deleted")
	ErrCorruptedEntry        = errors.New("corrupted procedure table entry")
	ErrReservedIdentity      = errors.New("zero identity is reserved")
)

// storage layout
var (
	prefixAddr  = []byte("P/a/")
	prefixCaps  = []byte("P/c/")
	prefixCount = []byte("P/n/")
	keyEntry    = []byte("K/entry")
	keyCurrent  = []byte("K/current")
)

const DefaultCacheSize = 256

// Table is the procedure table. Every mutation is a single atomic batch.
type Table struct {
	db    kvdb.Database
	cache *lru.Cache
}

// New creates a table on db. cacheSize bounds the decoded capability lists
// kept in memory; zero selects DefaultCacheSize.
func New(db kvdb.Database, cacheSize int) (*Table, error) {
	if db == nil {
		return nil, errors.New("proctable: nil database")
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "proctable: create cache")
	}
	return &Table{db: db, cache: cache}, nil
}

func makeKey(prefix []byte, id xident.Identity) []byte {
	key := make([]byte, 0, len(prefix)+xident.Width)
	key = append(key, prefix...)
	return append(key, id[:]...)
}

func makeCountKey(id xident.Identity, t capability.Type) []byte {
	return append(makeKey(prefixCount, id), byte(t))
}

func encodeWords(words []common.Hash) []byte {
	buf := make([]byte, 0, len(words)*common.HashLength)
	for _, w := range words {
		buf = append(buf, w[:]...)
	}
	return buf
}

func decodeWords(buf []byte) ([]common.Hash, error) {
	if len(buf)%common.HashLength != 0 {
		return nil, errors.Wrapf(ErrCorruptedEntry, "capability blob of %d bytes", len(buf))
	}
	words := make([]common.Hash, len(buf)/common.HashLength)
	for i := range words {
		copy(words[i][:], buf[i*common.HashLength:])
	}
	return words, nil
}

// Insert stores or overwrites the entry for id. The list is validated
// before anything is written.
func (t *Table) Insert(id xident.Identity, addr common.Address, caps capability.List) error {
	batch, err := t.entryBatch(id, addr, caps)
	if err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return errors.Wrap(err, "proctable: write entry")
	}

	t.cache.Add(id, clone(caps))
	metrics.TableOpCounter.WithLabelValues("insert").Inc()
	return nil
}

// InsertEntry inserts the entry for id, points the entry register at it and
// clears the current register, all in one batch.
func (t *Table) InsertEntry(id xident.Identity, addr common.Address, words []common.Hash) error {
	caps, err := capability.DecodeList(words)
	if err != nil {
		return errors.Wrap(ErrInvalidCapabilityList, err.Error())
	}
	batch, err := t.entryBatch(id, addr, caps)
	if err != nil {
		return err
	}
	batch.Put(keyEntry, id.Bytes())
	batch.Put(keyCurrent, xident.Zero.Bytes())
	if err := batch.Write(); err != nil {
		return errors.Wrap(err, "proctable: write entry procedure")
	}

	t.cache.Add(id, clone(caps))
	metrics.TableOpCounter.WithLabelValues("insert").Inc()
	return nil
}

func (t *Table) entryBatch(id xident.Identity, addr common.Address, caps capability.List) (kvdb.Batch, error) {
	if id.IsZero() {
		return nil, ErrReservedIdentity
	}
	if err := caps.Validate(); err != nil {
		return nil, errors.Wrap(ErrInvalidCapabilityList, err.Error())
	}

	batch := t.db.NewBatch()
	batch.Put(makeKey(prefixAddr, id), addr.Bytes())
	batch.Put(makeKey(prefixCaps, id), encodeWords(caps.Words()))
	for _, tp := range capability.Types {
		n := caps.CountOf(tp)
		if n == 0 {
			batch.Delete(makeCountKey(id, tp))
			continue
		}
		var cnt [4]byte
		binary.BigEndian.PutUint32(cnt[:], n)
		batch.Put(makeCountKey(id, tp), cnt[:])
	}
	return batch, nil
}

// cached lists are never shared with callers
func clone(caps capability.List) capability.List {
	return append(capability.List{}, caps...)
}

// InsertWords decodes an encoded capability list and inserts it.
func (t *Table) InsertWords(id xident.Identity, addr common.Address, words []common.Hash) error {
	caps, err := capability.DecodeList(words)
	if err != nil {
		return errors.Wrap(ErrInvalidCapabilityList, err.Error())
	}
	return t.Insert(id, addr, caps)
}

// LookupAddress returns the address stored for id, ok is false when absent.
func (t *Table) LookupAddress(id xident.Identity) (common.Address, bool, error) {
	raw, err := t.db.Get(makeKey(prefixAddr, id))
	if err == kvdb.ErrNotFound {
		return common.Address{}, false, nil
	}
	if err != nil {
		return common.Address{}, false, errors.Wrap(err, "proctable: read address")
	}
	if len(raw) != common.AddressLength {
		return common.Address{}, false, errors.Wrapf(ErrCorruptedEntry, "address of %d bytes", len(raw))
	}
	return common.BytesToAddress(raw), true, nil
}

// Has reports whether id has an entry.
func (t *Table) Has(id xident.Identity) (bool, error) {
	return t.db.Has(makeKey(prefixAddr, id))
}

// Capabilities returns the capability list of id, empty for unknown ids.
func (t *Table) Capabilities(id xident.Identity) (capability.List, error) {
	if v, ok := t.cache.Get(id); ok {
		return clone(v.(capability.List)), nil
	}

	raw, err := t.db.Get(makeKey(prefixCaps, id))
	if err == kvdb.ErrNotFound {
		return capability.List{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "proctable: read capabilities")
	}
	words, err := decodeWords(raw)
	if err != nil {
		return nil, err
	}
	caps, err := capability.DecodeList(words)
	if err != nil {
		return nil, errors.Wrap(ErrCorruptedEntry, err.Error())
	}
	t.cache.Add(id, clone(caps))
	return caps, nil
}

// CapabilityCount returns how many capabilities of type tp id holds, without
// decoding the list. Unknown ids hold none.
func (t *Table) CapabilityCount(id xident.Identity, tp capability.Type) (uint32, error) {
	raw, err := t.db.Get(makeCountKey(id, tp))
	if err == kvdb.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "proctable: read count")
	}
	if len(raw) != 4 {
		return 0, errors.Wrapf(ErrCorruptedEntry, "count of %d bytes", len(raw))
	}
	return binary.BigEndian.Uint32(raw), nil
}

// Delete removes the entry of id. The entry procedure cannot be deleted.
func (t *Table) Delete(id xident.Identity) error {
	ok, err := t.Has(id)
	if err != nil {
		return errors.Wrap(err, "proctable: lookup entry")
	}
	if !ok {
		return errors.Wrapf(ErrProcedureNotFound, "procedure %s", id.Name())
	}
	entry, err := t.EntryIdentity()
	if err != nil {
		return err
	}
	if entry == id {
		return errors.Wrapf(ErrEntryProcedure, "procedure %s", id.Name())
	}

	batch := t.db.NewBatch()
	batch.Delete(makeKey(prefixAddr, id))
	batch.Delete(makeKey(prefixCaps, id))
	for _, tp := range capability.Types {
		batch.Delete(makeCountKey(id, tp))
	}
	if err := batch.Write(); err != nil {
		return errors.Wrap(err, "proctable: delete entry")
	}

	t.cache.Remove(id)
	metrics.TableOpCounter.WithLabelValues("delete").Inc()
	return nil
}

// Procedures lists every registered identity in byte order.
func (t *Table) Procedures() ([]xident.Identity, error) {
	iter := t.db.NewIteratorWithPrefix(prefixAddr)
	defer iter.Release()

	ids := make([]xident.Identity, 0)
	for iter.Next() {
		id, ok := xident.FromBytes(bytes.TrimPrefix(iter.Key(), prefixAddr))
		if !ok {
			return nil, errors.Wrapf(ErrCorruptedEntry, "key %x", iter.Key())
		}
		ids = append(ids, id)
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "proctable: iterate")
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids, nil
}

func (t *Table) setRegister(key []byte, id xident.Identity) error {
	if err := t.db.Put(key, id.Bytes()); err != nil {
		return errors.Wrapf(err, "proctable: write register %s", key)
	}
	return nil
}

func (t *Table) getRegister(key []byte) (xident.Identity, error) {
	raw, err := t.db.Get(key)
	if err == kvdb.ErrNotFound {
		return xident.Zero, nil
	}
	if err != nil {
		return xident.Zero, errors.Wrapf(err, "proctable: read register %s", key)
	}
	id, ok := xident.FromBytes(raw)
	if !ok {
		return xident.Zero, errors.Wrapf(ErrCorruptedEntry, "register %s of %d bytes", key, len(raw))
	}
	return id, nil
}

func (t *Table) SetEntryIdentity(id xident.Identity) error {
	return t.setRegister(keyEntry, id)
}

func (t *Table) EntryIdentity() (xident.Identity, error) {
	return t.getRegister(keyEntry)
}

func (t *Table) SetCurrentIdentity(id xident.Identity) error {
	return t.setRegister(keyCurrent, id)
}

func (t *Table) CurrentIdentity() (xident.Identity, error) {
	return t.getRegister(keyCurrent)
}
