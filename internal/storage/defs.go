package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/meur/mistbook/internal/models"
)

var defTables = map[models.DefKind]string{
	models.DefMightLevels:   "might_level_defs",
	models.DefThemeTypes:    "theme_type_defs",
	models.DefQuintessences: "quintessence_defs",
}

func defTable(kind models.DefKind) (string, error) {
	table, ok := defTables[kind]
	if !ok {
		return "", newError(ErrInvalid, "unknown definition kind %q", kind)
	}
	return table, nil
}

// ListDefs returns every row of a reference table ordered by name.
func (s *Store) ListDefs(ctx context.Context, kind models.DefKind) ([]models.Def, error) {
	table, err := defTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM "+table+" ORDER BY name COLLATE NOCASE")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := []models.Def{}
	for rows.Next() {
		var d models.Def
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

// DefByName looks a definition up by its exact name.
func (s *Store) DefByName(ctx context.Context, kind models.DefKind, name string) (*models.Def, error) {
	table, err := defTable(kind)
	if err != nil {
		return nil, err
	}
	var d models.Def
	err = s.db.QueryRowContext(ctx, "SELECT id, name FROM "+table+" WHERE name = ?", name).Scan(&d.ID, &d.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("definition")
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// SeedDefs inserts the named definitions that are not present yet and reports
// how many were added.
func (s *Store) SeedDefs(ctx context.Context, kind models.DefKind, names []string) (int, error) {
	table, err := defTable(kind)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer rollback(tx)

	added := 0
	for _, name := range names {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO "+table+" (id, name) VALUES (?, ?) ON CONFLICT(name) DO NOTHING",
			newID(""), name)
		if err != nil {
			return 0, classify("definition", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, tx.Commit()
}
