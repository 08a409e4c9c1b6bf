package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ideabot/api/internal/util"
)

// PostgresStore keeps one row per node in store_nodes. Merges use the jsonb
// concatenation operator inside an upsert, so concurrent writers to the same
// node never overwrite each other's fields.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Read(ctx context.Context, path string) (json.RawMessage, error) {
	root, err := normalize(path)
	if err != nil {
		return nil, err
	}
	nodes, err := s.subtree(ctx, root)
	if err != nil {
		return nil, err
	}
	return assemble(root, nodes)
}

func (s *PostgresStore) ReadChildren(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	root, err := normalize(path)
	if err != nil {
		return nil, err
	}
	nodes, err := s.subtree(ctx, root)
	if err != nil {
		return nil, err
	}
	return children(root, nodes)
}

func (s *PostgresStore) Add(ctx context.Context, path string, value any) (string, error) {
	root, err := normalize(path)
	if err != nil {
		return "", err
	}
	key := util.NewRecordID()
	if err := s.Update(ctx, childPath(root, key), value); err != nil {
		return "", err
	}
	return key, nil
}

func (s *PostgresStore) Update(ctx context.Context, path string, value any) error {
	root, err := normalize(path)
	if err != nil {
		return err
	}
	nodes, err := flatten(root, value)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update %s: %w", root, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, n := range nodes {
		fields, err := json.Marshal(n.fields)
		if err != nil {
			return fmt.Errorf("encode %s: %w", n.path, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO store_nodes(path, parent, fields)
			VALUES($1, $2, $3::jsonb)
			ON CONFLICT (path) DO UPDATE
			SET fields = store_nodes.fields || EXCLUDED.fields, updated_at = NOW()
		`, n.path, parentOf(n.path), string(fields))
		if err != nil {
			return fmt.Errorf("upsert %s: %w", n.path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update %s: %w", root, err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, path string) error {
	root, err := normalize(path)
	if err != nil {
		return err
	}
	if root == "/" {
		return errors.New("refusing to remove the root path")
	}
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM store_nodes WHERE path = $1 OR path LIKE $2 ESCAPE '\'
	`, root, likePrefix(root))
	if err != nil {
		return fmt.Errorf("remove %s: %w", root, err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) subtree(ctx context.Context, root string) ([]node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, fields
		FROM store_nodes
		WHERE (path = $1 OR path LIKE $2 ESCAPE '\') AND fields <> '{}'::jsonb
		ORDER BY path
	`, root, likePrefix(root))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}
	defer rows.Close()

	var nodes []node
	for rows.Next() {
		var (
			path string
			raw  []byte
		)
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", root, err)
		}
		n := node{path: path}
		if err := json.Unmarshal(raw, &n.fields); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func likePrefix(root string) string {
	if root == "/" {
		return "/%"
	}
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(root)
	return escaped + "/%"
}
