package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/louisbranch/roundtable/internal/storage"
)

func macroFixture(id string, name string) storage.Macro {
	return storage.Macro{
		ID:      id,
		UserID:  "user-1",
		GameID:  "game-1",
		Name:    name,
		Formula: "1d20+5",
	}
}

func TestMacroLifecycle(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	createUser(t, store, "user-1", "alice")
	createGame(t, store, "game-1", "user-1")

	if err := store.CreateMacro(ctx, macroFixture("macro-1", "Attack")); err != nil {
		t.Fatalf("create macro: %v", err)
	}
	if err := store.CreateMacro(ctx, macroFixture("macro-2", "Attack")); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate macro name = %v, want ErrAlreadyExists", err)
	}

	updated := macroFixture("macro-1", "Greatsword")
	updated.Formula = "2d6+4"
	if err := store.UpdateMacro(ctx, updated); err != nil {
		t.Fatalf("update macro: %v", err)
	}

	macros, err := store.ListMacros(ctx, "user-1", "game-1")
	if err != nil {
		t.Fatalf("list macros: %v", err)
	}
	if len(macros) != 1 {
		t.Fatalf("macro count = %d, want 1", len(macros))
	}
	if macros[0].Name != "Greatsword" || macros[0].Formula != "2d6+4" {
		t.Fatalf("macro = %+v, want updated name and formula", macros[0])
	}

	if err := store.DeleteMacro(ctx, "macro-1", "user-1"); err != nil {
		t.Fatalf("delete macro: %v", err)
	}
	macros, err = store.ListMacros(ctx, "user-1", "game-1")
	if err != nil {
		t.Fatalf("list macros: %v", err)
	}
	if len(macros) != 0 {
		t.Fatalf("macro count after delete = %d, want 0", len(macros))
	}
}

func TestDeleteMacroScopedToOwner(t *testing.T) {
	store := openTempStore(t)
	ctx := context.Background()

	createUser(t, store, "user-1", "alice")
	createUser(t, store, "user-2", "bob")
	createGame(t, store, "game-1", "user-1")

	if err := store.CreateMacro(ctx, macroFixture("macro-1", "Attack")); err != nil {
		t.Fatalf("create macro: %v", err)
	}

	if err := store.DeleteMacro(ctx, "macro-1", "user-2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("delete other user's macro = %v, want ErrNotFound", err)
	}
}
