package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across posts and clients using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Posts sub-query
	if q.FilterType == "" || q.FilterType == ResultPost {
		postWhere := "p.fts @@ " + tsQuery
		if q.FilterClientID != "" {
			postWhere += fmt.Sprintf(" AND p.client_id = $%d", argN)
			args = append(args, q.FilterClientID)
			argN++
		}
		if q.IsExternal {
			postWhere += " AND p.status IN ('Client_Review', 'Approved', 'Published')"
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'post'::text AS type, p.id, p.title,
				ts_headline('english', coalesce(p."copy", ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.client_id, p.status,
				ts_rank(p.fts, %s) AS rank
			FROM posts p
			WHERE %s`, tsQuery, tsQuery, postWhere))
	}

	// Clients sub-query; the client directory is internal-only.
	if (q.FilterType == "" || q.FilterType == ResultClient) && !q.IsExternal {
		clientWhere := "c.fts @@ " + tsQuery
		if q.FilterClientID != "" {
			clientWhere += fmt.Sprintf(" AND c.id = $%d", argN)
			args = append(args, q.FilterClientID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'client'::text AS type, c.id, c.name AS title,
				''::text AS snippet,
				c.id AS client_id, ''::text AS status,
				ts_rank(c.fts, %s) AS rank
			FROM clients c
			WHERE %s`, tsQuery, clientWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, client_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ClientID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]PostRecord, []ClientRecord, error) {
	postRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, "copy", COALESCE(hashtags, ''), client_id, status
		FROM posts
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load posts: %w", err)
	}
	defer postRows.Close()

	posts := make([]PostRecord, 0)
	for postRows.Next() {
		var r PostRecord
		if err := postRows.Scan(&r.ID, &r.Title, &r.Copy, &r.Hashtags, &r.ClientID, &r.Status); err != nil {
			return nil, nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, r)
	}
	if err := postRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate posts: %w", err)
	}

	clientRows, err := p.db.QueryContext(ctx, `
		SELECT id, name
		FROM clients
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load clients: %w", err)
	}
	defer clientRows.Close()

	clients := make([]ClientRecord, 0)
	for clientRows.Next() {
		var r ClientRecord
		if err := clientRows.Scan(&r.ID, &r.Name); err != nil {
			return nil, nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, r)
	}
	if err := clientRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate clients: %w", err)
	}

	return posts, clients, nil
}
