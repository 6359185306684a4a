package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"osrd.dev/macro/model"
)

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

type SQLiteStorage struct {
	SQLiteConfig

	scenario model.ScenarioRef
	db       *sql.DB
}

func NewSQLiteStorage(scenario model.ScenarioRef, cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	onDisk := false
	directory := ""
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		directory = cfg[0].Directory
	}

	sourceName := ":memory:"
	if onDisk {
		sourceName = directory + "/macro.db"
	}

	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS macro_node (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    scenario_id INTEGER NOT NULL,
    path_item_key TEXT NOT NULL,
    trigram TEXT NOT NULL,
    full_name TEXT NOT NULL,
    connection_time INTEGER NOT NULL,
    position_x INTEGER NOT NULL,
    position_y INTEGER NOT NULL,
    labels TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS macro_node_scenario ON macro_node (scenario_id);
`)
	if err != nil {
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &SQLiteStorage{
		SQLiteConfig: SQLiteConfig{OnDisk: onDisk, Directory: directory},
		scenario:     scenario,
		db:           db,
	}, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) CreateNode(ctx context.Context, node model.MacroNode) (model.MacroNode, error) {
	labels, err := serializeLabels(node.Labels)
	if err != nil {
		return model.MacroNode{}, err
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO macro_node
    (scenario_id, path_item_key, trigram, full_name, connection_time, position_x, position_y, labels)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.scenario.ScenarioID, node.PathItemKey, node.Trigram, node.FullName,
		node.ConnectionTime, node.PositionX, node.PositionY, labels)
	if err != nil {
		return model.MacroNode{}, fmt.Errorf("inserting node: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.MacroNode{}, fmt.Errorf("reading insert id: %w", err)
	}
	node.DBID = id
	return node, nil
}

func (s *SQLiteStorage) UpdateNode(ctx context.Context, id int64, node model.MacroNode) error {
	labels, err := serializeLabels(node.Labels)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE macro_node
SET path_item_key = ?, trigram = ?, full_name = ?, connection_time = ?,
    position_x = ?, position_y = ?, labels = ?
WHERE id = ? AND scenario_id = ?`,
		node.PathItemKey, node.Trigram, node.FullName, node.ConnectionTime,
		node.PositionX, node.PositionY, labels, id, s.scenario.ScenarioID)
	if err != nil {
		return fmt.Errorf("updating node: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update: %w", err)
	}
	if affected == 0 {
		return ErrNodeNotFound
	}
	return nil
}

func (s *SQLiteStorage) DeleteNode(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM macro_node WHERE id = ? AND scenario_id = ?`,
		id, s.scenario.ScenarioID)
	if err != nil {
		return fmt.Errorf("deleting node: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete: %w", err)
	}
	if affected == 0 {
		return ErrNodeNotFound
	}
	return nil
}

func (s *SQLiteStorage) ListNodes(ctx context.Context, page, pageSize int) (model.NodePage, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM macro_node WHERE scenario_id = ?`,
		s.scenario.ScenarioID).Scan(&total)
	if err != nil {
		return model.NodePage{}, fmt.Errorf("counting nodes: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, path_item_key, trigram, full_name, connection_time, position_x, position_y, labels
FROM macro_node
WHERE scenario_id = ?
ORDER BY id
LIMIT ? OFFSET ?`,
		s.scenario.ScenarioID, pageSize, (page-1)*pageSize)
	if err != nil {
		return model.NodePage{}, fmt.Errorf("listing nodes: %w", err)
	}
	defer rows.Close()

	results := []model.MacroNode{}
	for rows.Next() {
		var node model.MacroNode
		var labels string
		err := rows.Scan(&node.DBID, &node.PathItemKey, &node.Trigram, &node.FullName,
			&node.ConnectionTime, &node.PositionX, &node.PositionY, &labels)
		if err != nil {
			return model.NodePage{}, fmt.Errorf("scanning node: %w", err)
		}
		node.Labels, err = deserializeLabels(labels)
		if err != nil {
			return model.NodePage{}, err
		}
		results = append(results, node)
	}
	if err := rows.Err(); err != nil {
		return model.NodePage{}, fmt.Errorf("reading nodes: %w", err)
	}

	return model.NodePage{
		Results: results,
		Next:    pageNext(page, pageSize, total),
	}, nil
}
