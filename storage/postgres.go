package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"osrd.dev/macro/model"
)

type PSQLStorage struct {
	scenario model.ScenarioRef
	db       *sql.DB
}

// Creates a new Postgres node storage using the provided connection
// string.
//
// If clearDB is true, the macro_node table is dropped on startup. You
// probably only want this for testing.
func NewPSQLStorage(scenario model.ScenarioRef, connStr string, clearDB bool) (*PSQLStorage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if clearDB {
		if _, err := db.Exec(`DROP TABLE IF EXISTS macro_node`); err != nil {
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS macro_node (
    id BIGSERIAL PRIMARY KEY,
    scenario_id BIGINT NOT NULL,
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

	return &PSQLStorage{scenario: scenario, db: db}, nil
}

func (s *PSQLStorage) Close() error {
	return s.db.Close()
}

func (s *PSQLStorage) CreateNode(ctx context.Context, node model.MacroNode) (model.MacroNode, error) {
	labels, err := serializeLabels(node.Labels)
	if err != nil {
		return model.MacroNode{}, err
	}
	err = s.db.QueryRowContext(ctx, `
INSERT INTO macro_node
    (scenario_id, path_item_key, trigram, full_name, connection_time, position_x, position_y, labels)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`,
		s.scenario.ScenarioID, node.PathItemKey, node.Trigram, node.FullName,
		node.ConnectionTime, node.PositionX, node.PositionY, labels).Scan(&node.DBID)
	if err != nil {
		return model.MacroNode{}, fmt.Errorf("inserting node: %w", err)
	}
	return node, nil
}

func (s *PSQLStorage) UpdateNode(ctx context.Context, id int64, node model.MacroNode) error {
	labels, err := serializeLabels(node.Labels)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE macro_node
SET path_item_key = $1, trigram = $2, full_name = $3, connection_time = $4,
    position_x = $5, position_y = $6, labels = $7
WHERE id = $8 AND scenario_id = $9`,
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

func (s *PSQLStorage) DeleteNode(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM macro_node WHERE id = $1 AND scenario_id = $2`,
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

func (s *PSQLStorage) ListNodes(ctx context.Context, page, pageSize int) (model.NodePage, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM macro_node WHERE scenario_id = $1`,
		s.scenario.ScenarioID).Scan(&total)
	if err != nil {
		return model.NodePage{}, fmt.Errorf("counting nodes: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, path_item_key, trigram, full_name, connection_time, position_x, position_y, labels
FROM macro_node
WHERE scenario_id = $1
ORDER BY id
LIMIT $2 OFFSET $3`,
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
