package tkv

import (
	"log/slog"
)

const (
	EngineBadger = "badger"
	EngineBolt   = "bolt"
)

type Config struct {
	Logger         *slog.Logger
	Engine         string // EngineBadger (default) or EngineBolt
	BadgerLogLevel slog.Level
	Directory      string
	InMemory       bool // badger only; Directory is ignored
}

type Entry struct {
	Key   string
	Value string
}

type TKVDataHandler interface {
	// Get returns ErrKeyNotFound if the key doesn't exist.
	Get(key string) (string, error)
	Set(key string, value string) error
	// Delete of a missing key is not an error.
	Delete(key string) error
	// Scan returns every entry under prefix, in key order.
	Scan(prefix string) ([]Entry, error)
}

type TKV interface {
	TKVDataHandler

	Close() error
}

// New opens the store selected by config.Engine.
func New(config Config) (TKV, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	switch config.Engine {
	case "", EngineBadger:
		return newBadger(config)
	case EngineBolt:
		return newBolt(config)
	default:
		return nil, &ErrUnknownEngine{Engine: config.Engine}
	}
}
