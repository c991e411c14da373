package tkv

import (
	"errors"
	"log/slog"
	"os"
	"testing"
)

type testTKV struct {
	tkv TKV
	dir string
}

func (t *testTKV) Cleanup() error {
	t.tkv.Close()
	return os.RemoveAll(t.dir)
}

func createTestTKV(t *testing.T, engine string) *testTKV {
	t.Helper()
	dir, err := os.MkdirTemp(os.TempDir(), "tkv_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir for test: %v", err)
	}

	store, err := New(Config{
		Logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		})),
		Engine:         engine,
		BadgerLogLevel: slog.LevelWarn,
		Directory:      dir,
	})
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to open %s store: %v", engine, err)
	}
	return &testTKV{tkv: store, dir: dir}
}

var engines = []string{EngineBadger, EngineBolt}

// -------------------------- TESTS

func TestTKV_GetSetDelete(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			tkvTest := createTestTKV(t, engine)
			defer tkvTest.Cleanup()

			t.Run("Set and Get basic value", func(t *testing.T) {
				if err := tkvTest.tkv.Set("testKey1", "testValue1"); err != nil {
					t.Errorf("Set() error = %v, wantErr nil", err)
				}
				got, err := tkvTest.tkv.Get("testKey1")
				if err != nil {
					t.Errorf("Get() error = %v, wantErr nil", err)
				}
				if got != "testValue1" {
					t.Errorf("Get() got = %v, want %v", got, "testValue1")
				}
			})

			t.Run("Set overwrites", func(t *testing.T) {
				if err := tkvTest.tkv.Set("over", "a"); err != nil {
					t.Fatalf("Set() error = %v", err)
				}
				if err := tkvTest.tkv.Set("over", "b"); err != nil {
					t.Fatalf("Set() error = %v", err)
				}
				got, _ := tkvTest.tkv.Get("over")
				if got != "b" {
					t.Errorf("Get() got = %v, want b", got)
				}
			})

			t.Run("Get non-existent key", func(t *testing.T) {
				_, err := tkvTest.tkv.Get("nonExistentKey")
				var keyNotFound *ErrKeyNotFound
				if !errors.As(err, &keyNotFound) {
					t.Fatalf("Get() expected ErrKeyNotFound, got %T", err)
				}
				if keyNotFound.Key != "nonExistentKey" {
					t.Errorf("ErrKeyNotFound.Key got = %s, want nonExistentKey", keyNotFound.Key)
				}
			})

			t.Run("Delete existing key", func(t *testing.T) {
				if err := tkvTest.tkv.Set("toBeDeleted", "v"); err != nil {
					t.Fatalf("Setup: Set() error = %v", err)
				}
				if err := tkvTest.tkv.Delete("toBeDeleted"); err != nil {
					t.Errorf("Delete() error = %v, wantErr nil", err)
				}
				_, err := tkvTest.tkv.Get("toBeDeleted")
				if !errors.As(err, new(*ErrKeyNotFound)) {
					t.Errorf("Get() after Delete expected ErrKeyNotFound, got %v", err)
				}
			})

			t.Run("Delete non-existent key", func(t *testing.T) {
				if err := tkvTest.tkv.Delete("neverSet"); err != nil {
					t.Errorf("Delete() of non-existent key error = %v, wantErr nil", err)
				}
			})
		})
	}
}

func TestTKV_Scan(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			tkvTest := createTestTKV(t, engine)
			defer tkvTest.Cleanup()

			keys := []string{"prefix_key2", "prefix_key1", "other_key1", "prefix_key3"}
			for _, key := range keys {
				if err := tkvTest.tkv.Set(key, "v:"+key); err != nil {
					t.Fatalf("Setup: Set() error for key %s: %v", key, err)
				}
			}

			entries, err := tkvTest.tkv.Scan("prefix_")
			if err != nil {
				t.Fatalf("Scan() error = %v", err)
			}
			want := []string{"prefix_key1", "prefix_key2", "prefix_key3"}
			if len(entries) != len(want) {
				t.Fatalf("Scan() got %d entries, want %d", len(entries), len(want))
			}
			for i, e := range entries {
				if e.Key != want[i] || e.Value != "v:"+want[i] {
					t.Errorf("Scan()[%d] = %+v, want key %s", i, e, want[i])
				}
			}

			empty, err := tkvTest.tkv.Scan("missing_")
			if err != nil {
				t.Fatalf("Scan() error = %v", err)
			}
			if empty == nil || len(empty) != 0 {
				t.Errorf("Scan() of empty prefix got %v, want empty non-nil slice", empty)
			}
		})
	}
}

func TestTKV_Reopen(t *testing.T) {
	for _, engine := range engines {
		t.Run(engine, func(t *testing.T) {
			dir := t.TempDir()
			cfg := Config{
				Logger:         slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})),
				Engine:         engine,
				BadgerLogLevel: slog.LevelWarn,
				Directory:      dir,
			}
			store, err := New(cfg)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if err := store.Set("durable", "yes"); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			if err := store.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			store, err = New(cfg)
			if err != nil {
				t.Fatalf("New() reopen error = %v", err)
			}
			defer store.Close()
			got, err := store.Get("durable")
			if err != nil || got != "yes" {
				t.Errorf("Get() after reopen = %q, %v; want yes, nil", got, err)
			}
		})
	}
}

func TestTKV_InMemoryBadger(t *testing.T) {
	store, err := New(Config{
		Logger:         slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})),
		BadgerLogLevel: slog.LevelWarn,
		InMemory:       true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	if err := store.Set("k", "v"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, _ := store.Get("k"); got != "v" {
		t.Errorf("Get() = %q, want v", got)
	}
}

func TestTKV_UnknownEngine(t *testing.T) {
	_, err := New(Config{Engine: "leveldb", Directory: t.TempDir()})
	var unknown *ErrUnknownEngine
	if !errors.As(err, &unknown) {
		t.Fatalf("New() error = %v, want ErrUnknownEngine", err)
	}
}

func TestPartition(t *testing.T) {
	tkvTest := createTestTKV(t, EngineBadger)
	defer tkvTest.Cleanup()

	a := NewPartition(tkvTest.tkv, "a/")
	b := NewPartition(tkvTest.tkv, "b/")

	if err := a.Set("x", "1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := b.Set("x", "2"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if got, _ := a.Get("x"); got != "1" {
		t.Errorf("a.Get(x) = %q, want 1", got)
	}
	if got, _ := b.Get("x"); got != "2" {
		t.Errorf("b.Get(x) = %q, want 2", got)
	}

	_, err := a.Get("y")
	var nf *ErrKeyNotFound
	if !errors.As(err, &nf) || nf.Key != "y" {
		t.Errorf("a.Get(y) error = %v, want ErrKeyNotFound{y}", err)
	}

	entries, err := a.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Key != "x" || entries[0].Value != "1" {
		t.Errorf("a.List() = %+v, want [{x 1}]", entries)
	}

	if err := a.Delete("x"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got, _ := b.Get("x"); got != "2" {
		t.Errorf("delete in a leaked into b: b.Get(x) = %q", got)
	}
}
