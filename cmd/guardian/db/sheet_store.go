package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ISSA-Motomu/Study-Guardian/cmd/guardian/sheet"
)

// SheetStoreSQL keeps every table as numbered JSON rows in sheet_rows.
// Row 1 of each sheet is its header.
type SheetStoreSQL struct {
	db     *sql.DB
	sqlite bool
}

func NewSheetStoreSQL(db *sql.DB, driver string) *SheetStoreSQL {
	return &SheetStoreSQL{db: db, sqlite: driver == "sqlite"}
}

// q rewrites $n placeholders into the ?n form sqlite expects.
func (s *SheetStoreSQL) q(query string) string {
	if s.sqlite {
		return strings.ReplaceAll(query, "$", "?")
	}
	return query
}

func decodeCells(raw string) ([]string, error) {
	var cells []string
	if err := json.Unmarshal([]byte(raw), &cells); err != nil {
		return nil, err
	}
	return cells, nil
}

func encodeCells(cells []string) (string, error) {
	if cells == nil {
		cells = []string{}
	}
	b, err := json.Marshal(cells)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *SheetStoreSQL) scan(ctx context.Context, table string) ([][]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT row_index, cells FROM sheet_rows WHERE sheet = $1 ORDER BY row_index`), table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out [][]string
	for rows.Next() {
		var idx int
		var raw string
		if err := rows.Scan(&idx, &raw); err != nil {
			return nil, err
		}
		cells, err := decodeCells(raw)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", table, idx, err)
		}
		for len(out) < idx-1 {
			out = append(out, []string{})
		}
		out = append(out, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", sheet.ErrTableNotFound, table)
	}
	return out, nil
}

func (s *SheetStoreSQL) GetTable(ctx context.Context, table string) ([][]string, error) {
	return s.scan(ctx, table)
}

func (s *SheetStoreSQL) GetCell(ctx context.Context, table string, row, col int) (string, error) {
	if row < 1 || col < 1 {
		return "", sheet.ErrOutOfRange
	}
	var raw string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT cells FROM sheet_rows WHERE sheet = $1 AND row_index = $2`), table, row).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sheet.ErrOutOfRange
	}
	if err != nil {
		return "", err
	}
	cells, err := decodeCells(raw)
	if err != nil {
		return "", err
	}
	if col > len(cells) {
		return "", nil
	}
	return cells[col-1], nil
}

func (s *SheetStoreSQL) AppendRow(ctx context.Context, table string, values []string) error {
	raw, err := encodeCells(values)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var last int
	err = tx.QueryRowContext(ctx, s.q(`SELECT COALESCE(MAX(row_index), 0) FROM sheet_rows WHERE sheet = $1`), table).Scan(&last)
	if err != nil {
		return err
	}
	if last == 0 {
		return fmt.Errorf("%w: %s", sheet.ErrTableNotFound, table)
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO sheet_rows (sheet, row_index, cells) VALUES ($1, $2, $3)`), table, last+1, raw)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SheetStoreSQL) UpdateCell(ctx context.Context, table string, row, col int, value string) error {
	if row < 1 || col < 1 {
		return sheet.ErrOutOfRange
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var raw string
	err = tx.QueryRowContext(ctx, s.q(`SELECT cells FROM sheet_rows WHERE sheet = $1 AND row_index = $2`), table, row).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return sheet.ErrOutOfRange
	}
	if err != nil {
		return err
	}
	cells, err := decodeCells(raw)
	if err != nil {
		return err
	}
	for len(cells) < col {
		cells = append(cells, "")
	}
	cells[col-1] = value
	if raw, err = encodeCells(cells); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.q(`UPDATE sheet_rows SET cells = $1 WHERE sheet = $2 AND row_index = $3`), raw, table, row)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SheetStoreSQL) FindRow(ctx context.Context, table, value string) (int, error) {
	rows, err := s.scan(ctx, table)
	if err != nil {
		return 0, err
	}
	for i, r := range rows {
		for _, c := range r {
			if c == value {
				return i + 1, nil
			}
		}
	}
	return 0, nil
}

// DeleteRow removes a data row and shifts the rows below it up by one.
func (s *SheetStoreSQL) DeleteRow(ctx context.Context, table string, row int) error {
	if row < 2 {
		return sheet.ErrOutOfRange
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM sheet_rows WHERE sheet = $1 AND row_index = $2`), table, row)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sheet.ErrOutOfRange
	}
	_, err = tx.ExecContext(ctx, s.q(`UPDATE sheet_rows SET row_index = row_index - 1 WHERE sheet = $1 AND row_index > $2`), table, row)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// EnsureTable writes the header row of a table that does not exist yet.
// An existing table keeps its header.
func (s *SheetStoreSQL) EnsureTable(ctx context.Context, table string, header []string) (bool, error) {
	raw, err := encodeCells(header)
	if err != nil {
		return false, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	var count int
	err = tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM sheet_rows WHERE sheet = $1`), table).Scan(&count)
	if err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	_, err = tx.ExecContext(ctx, s.q(`INSERT INTO sheet_rows (sheet, row_index, cells) VALUES ($1, $2, $3)`), table, 1, raw)
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

var _ sheet.Store = (*SheetStoreSQL)(nil)
