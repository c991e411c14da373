package tkv

import "strings"

// Partition scopes a store to every key under a fixed prefix. Keys passed to
// and returned from a Partition are relative to that prefix.
type Partition struct {
	store  TKVDataHandler
	prefix string
}

func NewPartition(store TKVDataHandler, prefix string) *Partition {
	return &Partition{store: store, prefix: prefix}
}

func (p *Partition) Prefix() string {
	return p.prefix
}

func (p *Partition) Get(key string) (string, error) {
	value, err := p.store.Get(p.prefix + key)
	if err != nil {
		if nf, ok := err.(*ErrKeyNotFound); ok {
			return "", &ErrKeyNotFound{Key: strings.TrimPrefix(nf.Key, p.prefix)}
		}
		return "", err
	}
	return value, nil
}

func (p *Partition) Set(key string, value string) error {
	return p.store.Set(p.prefix+key, value)
}

func (p *Partition) Delete(key string) error {
	return p.store.Delete(p.prefix + key)
}

// List returns every entry in the partition, in key order.
func (p *Partition) List() ([]Entry, error) {
	entries, err := p.store.Scan(p.prefix)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Key = strings.TrimPrefix(entries[i].Key, p.prefix)
	}
	return entries, nil
}
