package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kalambet/shelf/internal/material"
)

const materialColumns = `id, title, category, description, type, data, file_name, file_size, file_type, link, created_at`

const insertMaterial = `INSERT INTO materials (` + materialColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

// Put inserts m and returns its id. A zero m.ID lets SQLite assign the next
// id; a non-zero one (restore from a snapshot) is kept as is.
func (s *Store) Put(ctx context.Context, m material.Material) (int64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	return insert(ctx, s.db, m)
}

func insert(ctx context.Context, db execer, m material.Material) (int64, error) {
	id := sql.NullInt64{Int64: m.ID, Valid: m.ID != 0}
	var data, fileName, fileSize, fileType, link sql.NullString
	switch c := m.Content.(type) {
	case *material.File:
		data = sql.NullString{String: c.Data, Valid: true}
		fileName = sql.NullString{String: c.FileName, Valid: true}
		fileSize = sql.NullString{String: c.FileSize, Valid: true}
		fileType = sql.NullString{String: c.FileType, Valid: true}
	case *material.Link:
		link = sql.NullString{String: c.URL, Valid: true}
	}

	res, err := db.ExecContext(ctx, insertMaterial,
		id, m.Title, m.Category, m.Description, string(m.Kind()),
		data, fileName, fileSize, fileType, link, m.CreatedAt,
	)
	if err != nil {
		return 0, &StoreError{Op: "put", Err: err}
	}
	newID, err := res.LastInsertId()
	if err != nil {
		return 0, &StoreError{Op: "put", Err: err}
	}
	return newID, nil
}

// GetAll returns every material ordered by id.
func (s *Store) GetAll(ctx context.Context) ([]material.Material, error) {
	return s.queryMaterials(ctx, "get all", `SELECT `+materialColumns+` FROM materials ORDER BY id`)
}

// ListByCategory returns the materials of one category ordered by id. It is
// served by idx_materials_category.
func (s *Store) ListByCategory(ctx context.Context, category string) ([]material.Material, error) {
	return s.queryMaterials(ctx, "list by category",
		`SELECT `+materialColumns+` FROM materials WHERE category = ? ORDER BY id`, category)
}

func (s *Store) GetByID(ctx context.Context, id int64) (material.Material, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+materialColumns+` FROM materials WHERE id = ?`, id)
	m, err := scanMaterial(row)
	if errors.Is(err, sql.ErrNoRows) {
		return material.Material{}, ErrNotFound
	}
	if err != nil {
		return material.Material{}, &StoreError{Op: "get", Err: err}
	}
	return m, nil
}

// DeleteByID removes one material. Deleting an id that is already gone
// returns ErrNotFound; callers treat both outcomes as "record gone".
func (s *Store) DeleteByID(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM materials WHERE id = ?`, id)
	if err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear removes every material. The id sequence is kept so ids are never
// handed out twice.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM materials`); err != nil {
		return &StoreError{Op: "clear", Err: err}
	}
	return nil
}

// ReplaceAll swaps the whole record set inside one transaction. Either every
// record in ms is stored and the previous contents are gone, or nothing changes.
func (s *Store) ReplaceAll(ctx context.Context, ms []material.Material) error {
	for i, m := range ms {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "replace", Err: err}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM materials`); err != nil {
		tx.Rollback()
		return &StoreError{Op: "replace", Err: err}
	}
	for i, m := range ms {
		if _, err := insert(ctx, tx, m); err != nil {
			tx.Rollback()
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "replace", Err: err}
	}
	return nil
}

// CategoryCounts returns the number of materials per category.
func (s *Store) CategoryCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM materials GROUP BY category`)
	if err != nil {
		return nil, &StoreError{Op: "count", Err: err}
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, &StoreError{Op: "count", Err: err}
		}
		counts[cat] = n
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "count", Err: err}
	}
	return counts, nil
}

func (s *Store) queryMaterials(ctx context.Context, op, query string, args ...any) ([]material.Material, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StoreError{Op: op, Err: err}
	}
	defer rows.Close()

	var out []material.Material
	for rows.Next() {
		m, err := scanMaterial(rows)
		if err != nil {
			return nil, &StoreError{Op: op, Err: err}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: op, Err: err}
	}
	return out, nil
}

func scanMaterial(row scanner) (material.Material, error) {
	var m material.Material
	var kind string
	var data, fileName, fileSize, fileType, link sql.NullString
	if err := row.Scan(&m.ID, &m.Title, &m.Category, &m.Description, &kind,
		&data, &fileName, &fileSize, &fileType, &link, &m.CreatedAt); err != nil {
		return material.Material{}, err
	}

	switch material.Kind(kind) {
	case material.KindFile:
		m.Content = &material.File{
			Data:     data.String,
			FileName: fileName.String,
			FileSize: fileSize.String,
			FileType: fileType.String,
		}
	case material.KindLink:
		m.Content = &material.Link{URL: link.String}
	default:
		return material.Material{}, fmt.Errorf("material %d has unknown type %q", m.ID, kind)
	}
	return m, nil
}
