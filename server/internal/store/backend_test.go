package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"stagecast/server/internal/model"
)

// exerciseBackend 对任意 Store 后端跑同一组行为检查。
func exerciseBackend(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty backend, got %v", err)
	}

	first := &model.VersionedContent{
		Version:  "2025-03-01T12:00:00.000Z",
		Title:    "first",
		Body:     "b",
		ImageURL: "https://x/img.png?v=1",
		Effect:   model.Effect{Type: model.EffectCustom, Name: "GlitchText", Duration: 500, Params: map[string]any{"speed": 2.0}},
	}
	ok, err := s.SetIfAbsent(ctx, first)
	if err != nil || !ok {
		t.Fatalf("first SetIfAbsent should write, got ok=%v err=%v", ok, err)
	}

	ok, err = s.SetIfAbsent(ctx, &model.VersionedContent{Version: "other"})
	if err != nil || ok {
		t.Fatalf("second SetIfAbsent should be ignored, got ok=%v err=%v", ok, err)
	}

	got, err := s.Get(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != first.Version || got.Effect.Name != "GlitchText" || got.Effect.Params["speed"] != 2.0 {
		t.Fatalf("unexpected record %+v", got)
	}

	second := &model.VersionedContent{Version: "2025-03-01T12:00:01.000Z", Title: "second", Effect: model.Effect{Type: model.EffectFade, Duration: 400}}
	if err := s.Set(ctx, second); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err = s.Get(ctx)
	if err != nil {
		t.Fatalf("get after set: %v", err)
	}
	if got.Version != second.Version || got.Title != "second" {
		t.Fatalf("expected overwrite, got %+v", got)
	}
}

func TestInMemoryStore(t *testing.T) {
	exerciseBackend(t, NewInMemoryStore())
}

func TestInMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	c := &model.VersionedContent{Version: "v1", Title: "t"}
	if err := s.Set(ctx, c); err != nil {
		t.Fatalf("set: %v", err)
	}
	c.Title = "mutated"

	got, _ := s.Get(ctx)
	if got.Title != "t" {
		t.Fatalf("store should hold its own copy, got %q", got.Title)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	exerciseBackend(t, NewRedisStore(client, "content:current"))

	if !mr.Exists("content:current") {
		t.Fatalf("expected key to be written")
	}
}

func TestRedisStoreRejectsCorruptValue(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if err := mr.Set("k", "not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := NewRedisStore(client, "k").Get(context.Background()); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	exerciseBackend(t, NewSQLiteStore(db, "content:current"))
}

func TestSQLiteStoreKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "content.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	a := NewSQLiteStore(db, "a")
	b := NewSQLiteStore(db, "b")
	if err := a.Set(ctx, &model.VersionedContent{Version: "va"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := b.Get(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected b to be empty, got %v", err)
	}
}
