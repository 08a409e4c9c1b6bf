package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"ideabot/api/internal/store"
)

// PgFTS implements Searcher with PostgreSQL full-text search over the idea
// rows of store_nodes. Only usable with the postgres store backend.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the store is down too.
func (p *PgFTS) Healthy() bool {
	return true
}

const ideaColumns = `
	regexp_replace(n.path, '^.*/', '') AS id,
	split_part(n.parent, '/', 3) AS team_id,
	COALESCE(n.fields->>'idea', '') AS idea,
	COALESCE(n.fields->>'articleURL', '') AS article_url,
	COALESCE(m.fields->>'title', '') AS title,
	COALESCE(n.fields->>'user', '') AS author,
	COALESCE((SELECT count(*) FROM jsonb_each(l.fields) e WHERE e.value = 'true'::jsonb), 0) AS likes,
	COALESCE((n.fields->>'createTs')::bigint, 0) AS create_ts`

const ideaJoins = `
	FROM store_nodes n
	LEFT JOIN store_nodes l ON l.path = n.path || '/likes'
	LEFT JOIN store_nodes m ON m.path = n.path || '/meta'`

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	const match = `n.parent = $2
		AND to_tsvector('english', COALESCE(n.fields->>'idea', '')) @@ plainto_tsquery('english', $1)`
	args := []any{q.Text, store.IdeasPath(q.TeamID)}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM store_nodes n WHERE `+match, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`SELECT %s,
			ts_headline('english', COALESCE(n.fields->>'idea', ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		%s
		WHERE %s
		ORDER BY ts_rank(to_tsvector('english', COALESCE(n.fields->>'idea', '')), plainto_tsquery('english', $1)) DESC
		LIMIT %d`, ideaColumns, ideaJoins, match, defaultLimit(q.Limit))

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.TeamID, &r.Idea, &r.ArticleURL, &r.Title, &r.User, &r.Likes, &r.CreateTs, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAll returns every stored idea for full reindexing.
func (p *PgFTS) LoadAll(ctx context.Context) ([]IdeaRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+ideaColumns+ideaJoins+`
		WHERE n.parent ~ '^/ideas/[^/]+$' AND n.fields->>'idea' IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("load ideas: %w", err)
	}
	defer rows.Close()

	records := make([]IdeaRecord, 0)
	for rows.Next() {
		var r IdeaRecord
		if err := rows.Scan(&r.ID, &r.TeamID, &r.Idea, &r.ArticleURL, &r.Title, &r.User, &r.Likes, &r.CreateTs); err != nil {
			return nil, fmt.Errorf("scan idea: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ideas: %w", err)
	}
	return records, nil
}
