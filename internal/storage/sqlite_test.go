package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kalambet/shelf/internal/material"
)

var ctx = context.Background()

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func linkMaterial(title, category string) material.Material {
	return material.Material{
		Title:     title,
		Category:  category,
		CreatedAt: "2024-01-01T00:00:00.000Z",
		Content:   &material.Link{URL: "http://example.com/" + title},
	}
}

func fileMaterial(name, category string) material.Material {
	return material.Material{
		Title:     material.TitleFromFileName(name),
		Category:  category,
		CreatedAt: "2024-01-02T00:00:00.000Z",
		Content: &material.File{
			Data:     material.EncodeDataURL("text/plain", []byte("hello")),
			FileName: name,
			FileSize: material.FormatSize(5),
			FileType: "text/plain",
		},
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) || len(v1) != 2 {
		t.Errorf("migrations = %v then %v, want 2 both times", v1, v2)
	}
}

func TestCategoryIndexExists(t *testing.T) {
	s := openTestStore(t)

	var name string
	err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'index' AND name = 'idx_materials_category'`).Scan(&name)
	if err != nil {
		t.Fatalf("category index missing: %v", err)
	}

	var detail string
	rows, err := s.db.Query(`EXPLAIN QUERY PLAN SELECT id FROM materials WHERE category = ?`, "algebra")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	found := false
	for rows.Next() {
		var id, parent, notused int
		if err := rows.Scan(&id, &parent, &notused, &detail); err != nil {
			t.Fatal(err)
		}
		if strings.Contains(detail, "idx_materials_category") {
			found = true
		}
	}
	if !found {
		t.Error("category query does not use idx_materials_category")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)

	id, err := s.Put(ctx, fileMaterial("a.pdf", "textbooks"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if id == 0 {
		t.Fatal("Put returned id 0")
	}

	got, err := s.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	f, ok := got.File()
	if !ok {
		t.Fatalf("Kind = %q, want file", got.Kind())
	}
	if got.Title != "a" || f.FileName != "a.pdf" || f.FileSize != "5 Bytes" || got.Category != "textbooks" {
		t.Errorf("unexpected material: %+v %+v", got, f)
	}

	if _, err := s.GetByID(ctx, id+100); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrNotFound", err)
	}
}

// Scenario A.
func TestPut_LinkScenario(t *testing.T) {
	s := openTestStore(t)

	m := material.Material{Title: "Notes", Category: "algebra", CreatedAt: "2024-05-05T12:00:00.000Z", Content: &material.Link{URL: "http://x"}}
	id, err := s.Put(ctx, m)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("GetAll returned %d records, want 1", len(all))
	}
	got := all[0]
	if got.ID != id || got.Kind() != material.KindLink || got.Category != "algebra" || got.CreatedAt == "" {
		t.Errorf("unexpected record %+v", got)
	}
	l, _ := got.Link()
	if l.URL != "http://x" {
		t.Errorf("URL = %q", l.URL)
	}
}

func TestPut_RejectsEmptyCategory(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Put(ctx, linkMaterial("t", ""))
	if !errors.Is(err, material.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	all, _ := s.GetAll(ctx)
	if len(all) != 0 {
		t.Errorf("store has %d records after rejected put", len(all))
	}
}

func TestPut_HonoursExplicitID(t *testing.T) {
	s := openTestStore(t)

	m := linkMaterial("restored", "geometry")
	m.ID = 42
	id, err := s.Put(ctx, m)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}

	next, err := s.Put(ctx, linkMaterial("new", "geometry"))
	if err != nil {
		t.Fatal(err)
	}
	if next <= 42 {
		t.Errorf("next id = %d, want > 42", next)
	}

	if _, err := s.Put(ctx, m); !errors.Is(err, ErrStore) {
		t.Errorf("duplicate id error = %v, want ErrStore", err)
	}
}

// P1: concurrent puts never share an id.
func TestPut_ConcurrentIDsUnique(t *testing.T) {
	s := openTestStore(t)

	const n = 50
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := s.Put(ctx, linkMaterial(fmt.Sprintf("l%d", i), "useful"))
			if err != nil {
				t.Errorf("Put %d: %v", i, err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("id %d assigned twice", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Errorf("got %d ids, want %d", len(seen), n)
	}
}

func TestIDsNotReusedAfterClear(t *testing.T) {
	s := openTestStore(t)

	first, _ := s.Put(ctx, linkMaterial("a", "algebra"))
	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	second, _ := s.Put(ctx, linkMaterial("b", "algebra"))
	if second <= first {
		t.Errorf("id after clear = %d, want > %d", second, first)
	}
}

func TestDeleteByID_Idempotent(t *testing.T) {
	s := openTestStore(t)

	id, _ := s.Put(ctx, linkMaterial("a", "algebra"))
	if err := s.DeleteByID(ctx, id); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.DeleteByID(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
}

// P6: clear followed by M puts leaves exactly those M records.
func TestClearThenRestore(t *testing.T) {
	s := openTestStore(t)

	for i := range 3 {
		s.Put(ctx, linkMaterial(fmt.Sprintf("old%d", i), "algebra"))
	}
	if err := s.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	for i := range 2 {
		if _, err := s.Put(ctx, fileMaterial(fmt.Sprintf("new%d.txt", i), "useful")); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("GetAll returned %d, want 2", len(all))
	}
	for _, m := range all {
		if m.Category != "useful" {
			t.Errorf("unexpected survivor %+v", m)
		}
	}
}

func TestListByCategoryAndCounts(t *testing.T) {
	s := openTestStore(t)

	s.Put(ctx, linkMaterial("a", "algebra"))
	s.Put(ctx, linkMaterial("b", "algebra"))
	s.Put(ctx, fileMaterial("c.txt", "geometry"))

	alg, err := s.ListByCategory(ctx, "algebra")
	if err != nil {
		t.Fatal(err)
	}
	if len(alg) != 2 || alg[0].Title != "a" || alg[1].Title != "b" {
		t.Errorf("ListByCategory(algebra) = %+v", alg)
	}

	none, err := s.ListByCategory(ctx, "textbooks")
	if err != nil || len(none) != 0 {
		t.Errorf("ListByCategory(textbooks) = %v, %v", none, err)
	}

	counts, err := s.CategoryCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["algebra"] != 2 || counts["geometry"] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestReplaceAll_RollsBackOnFailure(t *testing.T) {
	s := openTestStore(t)

	s.Put(ctx, linkMaterial("keep", "algebra"))

	a := linkMaterial("x", "geometry")
	a.ID = 5
	b := linkMaterial("y", "geometry")
	b.ID = 5
	if err := s.ReplaceAll(ctx, []material.Material{a, b}); !errors.Is(err, ErrStore) {
		t.Fatalf("ReplaceAll error = %v, want ErrStore", err)
	}

	all, _ := s.GetAll(ctx)
	if len(all) != 1 || all[0].Title != "keep" {
		t.Errorf("store changed after failed replace: %+v", all)
	}

	if err := s.ReplaceAll(ctx, []material.Material{a}); err != nil {
		t.Fatalf("ReplaceAll: %v", err)
	}
	all, _ = s.GetAll(ctx)
	if len(all) != 1 || all[0].ID != 5 {
		t.Errorf("after replace: %+v", all)
	}
}

func TestReplaceAll_ValidatesBeforeWriting(t *testing.T) {
	s := openTestStore(t)
	s.Put(ctx, linkMaterial("keep", "algebra"))

	err := s.ReplaceAll(ctx, []material.Material{linkMaterial("bad", "")})
	if !errors.Is(err, material.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
	all, _ := s.GetAll(ctx)
	if len(all) != 1 {
		t.Errorf("store changed: %d records", len(all))
	}
}

func TestState(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.GetState(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetState(missing) error = %v, want ErrNotFound", err)
	}
	if err := s.SetState(ctx, "k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetState(ctx, "k", "v2"); err != nil {
		t.Fatal(err)
	}
	v, err := s.GetState(ctx, "k")
	if err != nil || v != "v2" {
		t.Errorf("GetState = %q, %v; want v2", v, err)
	}
	if err := s.DeleteState(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteState(ctx, "k"); err != nil {
		t.Errorf("deleting a missing key: %v", err)
	}
}

func TestPut_ExecFailureIsStoreError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s := newWithDB(db)

	mock.ExpectExec("INSERT INTO materials").WillReturnError(errors.New("disk I/O error"))

	_, err = s.Put(ctx, linkMaterial("a", "algebra"))
	var se *StoreError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StoreError", err)
	}
	if se.Op != "put" {
		t.Errorf("Op = %q, want put", se.Op)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReplaceAll_CommitFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s := newWithDB(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM materials").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO materials").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	err = s.ReplaceAll(ctx, []material.Material{linkMaterial("a", "algebra")})
	if !errors.Is(err, ErrStore) {
		t.Fatalf("error = %v, want ErrStore", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestReplaceAll_BeginFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	s := newWithDB(db)

	mock.ExpectBegin().WillReturnError(errors.New("storage unavailable"))

	err = s.ReplaceAll(ctx, []material.Material{linkMaterial("a", "algebra")})
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "replace" {
		t.Fatalf("error = %v, want *StoreError{Op: replace}", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
