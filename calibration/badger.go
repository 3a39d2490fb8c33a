package calibration

import (
	"encoding/binary"
	"encoding/json"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/snksoft/crc"
)

var crcTable = crc.NewTable(crc.XMODEM)

// BadgerStore is a Store on disk, backed by Badger.  Each key holds a JSON
// array of entries followed by a big-endian CRC-16/XMODEM of the JSON.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a store in the directory at path
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 20) // calibration data is tiny
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening calibration store at %s", path)
	}
	return &BadgerStore{db: db}, nil
}

func dbKey(key string) []byte {
	return []byte("calibration:" + key)
}

func encode(entries []Entry) ([]byte, error) {
	data, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	sum := uint16(crcTable.CalculateCRC(data))
	return binary.BigEndian.AppendUint16(data, sum), nil
}

func decode(raw []byte) ([]Entry, error) {
	if len(raw) < 2 {
		return nil, ErrCorrupt
	}
	data, trailer := raw[:len(raw)-2], raw[len(raw)-2:]
	if uint16(crcTable.CalculateCRC(data)) != binary.BigEndian.Uint16(trailer) {
		return nil, ErrCorrupt
	}
	entries := []Entry{}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func get(txn *badger.Txn, key string) ([]Entry, error) {
	item, err := txn.Get(dbKey(key))
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return []Entry{}, nil
		}
		return nil, err
	}
	var entries []Entry
	err = item.Value(func(v []byte) error {
		var err error
		entries, err = decode(v)
		return err
	})
	return entries, err
}

func put(txn *badger.Txn, key string, entries []Entry) error {
	data, err := encode(entries)
	if err != nil {
		return err
	}
	return txn.Set(dbKey(key), data)
}

// Init writes an empty entry list under key if there is nothing there yet
func (s *BadgerStore) Init(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(dbKey(key))
		if err == badger.ErrKeyNotFound {
			return put(txn, key, []Entry{})
		}
		return err
	})
	return errors.Wrapf(err, "initializing calibration %s", key)
}

// Load returns the entries under key
func (s *BadgerStore) Load(key string) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		entries, err = get(txn, key)
		return err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "loading calibration %s", key)
	}
	return entries, nil
}

// Save appends an entry under key
func (s *BadgerStore) Save(key string, e Entry) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		entries, err := get(txn, key)
		if err != nil {
			return err
		}
		return put(txn, key, append(entries, e))
	})
	return errors.Wrapf(err, "saving calibration %s", key)
}

// Delete removes every entry under key
func (s *BadgerStore) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(dbKey(key))
	})
	return errors.Wrapf(err, "deleting calibration %s", key)
}

// Close closes the underlying database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
