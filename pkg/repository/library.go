package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kwkeefer/hiro/pkg/models"
)

// LibraryRepo manages the curated technique library and its content
// embeddings.
type LibraryRepo struct {
	pool *pgxpool.Pool
}

// NewLibraryRepo creates a new LibraryRepo
func NewLibraryRepo(pool *pgxpool.Pool) *LibraryRepo {
	return &LibraryRepo{pool: pool}
}

const libraryColumns = `id, title, content, category, tags, metadata,
	usage_count, last_used_at, created_at`

// Add inserts a library entry. Duplicate detection against existing content
// is the tool layer's job (it needs the similarity threshold semantics).
func (r *LibraryRepo) Add(ctx context.Context, req models.AddLibraryEntryRequest) (*models.LibraryEntry, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if req.Content == "" {
		return nil, fmt.Errorf("content is required")
	}
	metadata, err := marshalJSON(req.Metadata)
	if err != nil {
		return nil, err
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO technique_library
			(id, title, content, category, tags, metadata, content_embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
		RETURNING `+libraryColumns,
		uuid.New().String(), req.Title, req.Content, req.Category, tags, metadata,
		formatVector(req.ContentEmbedding))

	entry, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("failed to add library entry: %w", err)
	}
	return entry, nil
}

// Get returns a library entry by id.
func (r *LibraryRepo) Get(ctx context.Context, id string) (*models.LibraryEntry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+libraryColumns+` FROM technique_library WHERE id = $1`, id)
	entry, err := scanEntry(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get library entry: %w", err)
	}
	return entry, nil
}

// FindSimilar runs a cosine k-NN over content embeddings. Score is
// 1 − cosine distance, descending.
func (r *LibraryRepo) FindSimilar(ctx context.Context, queryVector []float32, k int, minSimilarity float64, category string) ([]*models.ScoredEntry, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}
	if k <= 0 {
		k = 10
	}

	where := []string{"content_embedding IS NOT NULL"}
	args := []any{formatVector(queryVector)}
	if category != "" {
		args = append(args, category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	args = append(args, 1-minSimilarity)
	where = append(where, fmt.Sprintf("(content_embedding <=> $1::vector) <= $%d", len(args)))
	args = append(args, k)

	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s, 1 - (content_embedding <=> $1::vector) AS score
		FROM technique_library
		WHERE %s
		ORDER BY content_embedding <=> $1::vector
		LIMIT $%d`, libraryColumns, strings.Join(where, " AND "), len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search library: %w", err)
	}
	defer rows.Close()

	var scored []*models.ScoredEntry
	for rows.Next() {
		var e models.LibraryEntry
		var metadata []byte
		var score float64
		err := rows.Scan(&e.ID, &e.Title, &e.Content, &e.Category, &e.Tags, &metadata,
			&e.UsageCount, &e.LastUsedAt, &e.CreatedAt, &score)
		if err != nil {
			return nil, err
		}
		if err := unmarshalJSON(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode entry metadata: %w", err)
		}
		scored = append(scored, &models.ScoredEntry{Entry: &e, Score: score})
	}
	return scored, rows.Err()
}

// BumpUsage increments usage statistics for retrieved entries.
func (r *LibraryRepo) BumpUsage(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE technique_library
		SET usage_count = usage_count + 1, last_used_at = now()
		WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("failed to bump library usage: %w", err)
	}
	return nil
}

// Stats summarises the library: entry count, per-category counts, and the
// ten most frequent tags.
func (r *LibraryRepo) Stats(ctx context.Context) (*models.LibraryStats, error) {
	stats := &models.LibraryStats{ByCategory: map[string]int{}}

	rows, err := r.pool.Query(ctx,
		`SELECT category, count(*) FROM technique_library GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var count int
		if err := rows.Scan(&category, &count); err != nil {
			return nil, err
		}
		stats.ByCategory[category] = count
		stats.EntryCount += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tagRows, err := r.pool.Query(ctx, `
		SELECT tag, count(*) AS n
		FROM technique_library, unnest(tags) AS tag
		GROUP BY tag
		ORDER BY n DESC, tag
		LIMIT 10`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate tags: %w", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var tc models.TagCount
		if err := tagRows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, err
		}
		stats.TopTags = append(stats.TopTags, tc)
	}
	if err := tagRows.Err(); err != nil {
		return nil, err
	}

	// Deterministic order helps the tool layer render stable output.
	sort.SliceStable(stats.TopTags, func(i, j int) bool {
		if stats.TopTags[i].Count != stats.TopTags[j].Count {
			return stats.TopTags[i].Count > stats.TopTags[j].Count
		}
		return stats.TopTags[i].Tag < stats.TopTags[j].Tag
	})

	return stats, nil
}

func scanEntry(row pgx.Row) (*models.LibraryEntry, error) {
	var e models.LibraryEntry
	var metadata []byte
	err := row.Scan(&e.ID, &e.Title, &e.Content, &e.Category, &e.Tags, &metadata,
		&e.UsageCount, &e.LastUsedAt, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &e.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode entry metadata: %w", err)
	}
	return &e, nil
}
