package badgerstore

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/ssd-technologies/nebulon/internal/registry"
)

// Key layout:
//
//	reg                      registry JSON
//	h/<handle>               latest version, uint32 big endian
//	id/<handle>/<version>    identity JSON, version uint32 big endian
//	own/<owner>              handle of the owner's active identity
//	bal/<owner>/<asset>      balance, uint64 big endian
//	ev/<seq>                 event JSON, seq uint64 big endian
//	seq/ev                   last assigned event seq
var (
	keyRegistry = []byte("reg")
	keyEventSeq = []byte("seq/ev")

	prefixHandle   = []byte("h/")
	prefixIdentity = []byte("id/")
	prefixOwner    = []byte("own/")
	prefixBalance  = []byte("bal/")
	prefixEvent    = []byte("ev/")
)

func handleKey(handle string) []byte {
	return append(append([]byte(nil), prefixHandle...), handle...)
}

func identityKey(handle string, version uint32) []byte {
	k := append(append([]byte(nil), prefixIdentity...), handle...)
	k = append(k, '/')
	return binary.BigEndian.AppendUint32(k, version)
}

func ownerKey(owner registry.Address) []byte {
	return append(append([]byte(nil), prefixOwner...), owner...)
}

func balanceKey(owner registry.Address, asset registry.Asset) []byte {
	k := append(append([]byte(nil), prefixBalance...), owner...)
	k = append(k, '/')
	return append(k, asset...)
}

func eventKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte(nil), prefixEvent...), seq)
}

// ledgerTx implements registry.Tx over one badger transaction.
type ledgerTx struct {
	txn *badger.Txn
}

var _ registry.Tx = (*ledgerTx)(nil)

// get returns the value at key, or nil with badger.ErrKeyNotFound.
func (l *ledgerTx) get(key []byte) ([]byte, error) {
	item, err := l.txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (l *ledgerTx) getJSON(key []byte, v any) error {
	raw, err := l.get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func (l *ledgerTx) setJSON(key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return l.txn.Set(key, raw)
}

func (l *ledgerTx) exists(key []byte) (bool, error) {
	_, err := l.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (l *ledgerTx) Registry() (*registry.Registry, error) {
	var r registry.Registry
	err := l.getJSON(keyRegistry, &r)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, registry.ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("get registry: %w", err)
	}
	return &r, nil
}

func (l *ledgerTx) CreateRegistry(r *registry.Registry) error {
	ok, err := l.exists(keyRegistry)
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	if ok {
		return registry.ErrAlreadyInitialized
	}
	if err := l.setJSON(keyRegistry, r); err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	return nil
}

func (l *ledgerTx) PutRegistry(r *registry.Registry) error {
	ok, err := l.exists(keyRegistry)
	if err != nil {
		return fmt.Errorf("put registry: %w", err)
	}
	if !ok {
		return registry.ErrNotInitialized
	}
	if err := l.setJSON(keyRegistry, r); err != nil {
		return fmt.Errorf("put registry: %w", err)
	}
	return nil
}

func (l *ledgerTx) latestVersion(handle string) (uint32, error) {
	raw, err := l.get(handleKey(handle))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, registry.ErrIdentityNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get handle: %w", err)
	}
	if len(raw) != 4 {
		return 0, fmt.Errorf("handle %s: corrupt version pointer", handle)
	}
	return binary.BigEndian.Uint32(raw), nil
}

func (l *ledgerTx) Identity(handle string) (*registry.Identity, error) {
	v, err := l.latestVersion(handle)
	if err != nil {
		return nil, err
	}
	return l.IdentityVersion(handle, v)
}

func (l *ledgerTx) IdentityVersion(handle string, version uint32) (*registry.Identity, error) {
	var id registry.Identity
	err := l.getJSON(identityKey(handle, version), &id)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, registry.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get identity: %w", err)
	}
	if id.SNS == nil {
		id.SNS = map[string]string{}
	}
	return &id, nil
}

func (l *ledgerTx) IdentityByOwner(owner registry.Address) (*registry.Identity, error) {
	raw, err := l.get(ownerKey(owner))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, registry.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get owner index: %w", err)
	}
	return l.Identity(string(raw))
}

func (l *ledgerTx) CreateIdentity(id *registry.Identity) error {
	cur, err := l.latestVersion(id.Handle)
	switch {
	case errors.Is(err, registry.ErrIdentityNotFound):
		if id.Version != 1 {
			return registry.ErrIdentityNotFound
		}
	case err != nil:
		return err
	case id.Version != cur+1:
		return registry.ErrDuplicateKey
	}

	if err := l.setJSON(identityKey(id.Handle, id.Version), id); err != nil {
		return fmt.Errorf("create identity: %w", err)
	}
	ver := binary.BigEndian.AppendUint32(nil, id.Version)
	if err := l.txn.Set(handleKey(id.Handle), ver); err != nil {
		return fmt.Errorf("create handle: %w", err)
	}
	if id.IsActive {
		if err := l.txn.Set(ownerKey(id.Owner), []byte(id.Handle)); err != nil {
			return fmt.Errorf("index owner: %w", err)
		}
	}
	return nil
}

func (l *ledgerTx) PutIdentity(id *registry.Identity) error {
	prev, err := l.IdentityVersion(id.Handle, id.Version)
	if err != nil {
		return err
	}
	if err := l.setJSON(identityKey(id.Handle, id.Version), id); err != nil {
		return fmt.Errorf("put identity: %w", err)
	}
	if prev.IsActive && (!id.IsActive || prev.Owner != id.Owner) {
		if err := l.unindexOwner(prev.Owner, id.Handle); err != nil {
			return err
		}
	}
	if id.IsActive {
		if err := l.txn.Set(ownerKey(id.Owner), []byte(id.Handle)); err != nil {
			return fmt.Errorf("index owner: %w", err)
		}
	}
	return nil
}

// unindexOwner drops owner's index entry if it still points at handle.
func (l *ledgerTx) unindexOwner(owner registry.Address, handle string) error {
	raw, err := l.get(ownerKey(owner))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get owner index: %w", err)
	}
	if string(raw) != handle {
		return nil
	}
	if err := l.txn.Delete(ownerKey(owner)); err != nil {
		return fmt.Errorf("unindex owner: %w", err)
	}
	return nil
}

func (l *ledgerTx) Identities() ([]registry.Identity, error) {
	it := l.txn.NewIterator(badger.IteratorOptions{Prefix: prefixHandle, PrefetchValues: true})
	defer it.Close()

	var ids []registry.Identity
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		handle := string(bytes.TrimPrefix(item.Key(), prefixHandle))
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return nil, fmt.Errorf("list identities: %w", err)
		}
		if len(raw) != 4 {
			return nil, fmt.Errorf("handle %s: corrupt version pointer", handle)
		}
		id, err := l.IdentityVersion(handle, binary.BigEndian.Uint32(raw))
		if err != nil {
			return nil, err
		}
		ids = append(ids, *id)
	}
	return ids, nil
}

func (l *ledgerTx) Balance(owner registry.Address, asset registry.Asset) (uint64, error) {
	raw, err := l.get(balanceKey(owner, asset))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("balance %s: corrupt value", owner.Short())
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (l *ledgerTx) setBalance(owner registry.Address, asset registry.Asset, amount uint64) error {
	if err := l.txn.Set(balanceKey(owner, asset), binary.BigEndian.AppendUint64(nil, amount)); err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

func (l *ledgerTx) Transfer(from, to registry.Address, asset registry.Asset, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	src, err := l.Balance(from, asset)
	if err != nil {
		return err
	}
	if src < amount {
		return registry.ErrInsufficientFunds
	}
	dst, err := l.Balance(to, asset)
	if err != nil {
		return err
	}
	if dst+amount < dst {
		return fmt.Errorf("transfer: balance of %s overflows", to.Short())
	}
	if err := l.setBalance(from, asset, src-amount); err != nil {
		return err
	}
	return l.setBalance(to, asset, dst+amount)
}

func (l *ledgerTx) Mint(to registry.Address, asset registry.Asset, amount uint64) error {
	cur, err := l.Balance(to, asset)
	if err != nil {
		return err
	}
	if cur+amount < cur {
		return fmt.Errorf("mint: balance of %s overflows", to.Short())
	}
	return l.setBalance(to, asset, cur+amount)
}

func (l *ledgerTx) AppendEvent(e *registry.Event) error {
	var seq uint64
	raw, err := l.get(keyEventSeq)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return fmt.Errorf("get event seq: %w", err)
	default:
		seq = binary.BigEndian.Uint64(raw)
	}
	seq++
	e.Seq = seq
	if err := l.setJSON(eventKey(seq), e); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	if err := l.txn.Set(keyEventSeq, binary.BigEndian.AppendUint64(nil, seq)); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (l *ledgerTx) Events(after uint64, limit int) ([]registry.Event, error) {
	it := l.txn.NewIterator(badger.IteratorOptions{Prefix: prefixEvent, PrefetchValues: true})
	defer it.Close()

	var events []registry.Event
	for it.Seek(eventKey(after + 1)); it.Valid() && len(events) < limit; it.Next() {
		var e registry.Event
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}
