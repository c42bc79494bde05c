package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/modsuite/runtime/pkg/models"
)

// PgvectorStore implements Driver on top of PostgreSQL with the pgvector
// extension, for deployments large enough to outgrow EmbeddedStore.
type PgvectorStore struct {
	pool       *pgxpool.Pool
	dimensions int
	log        zerolog.Logger
}

// NewPgvectorStore dials connURL and ensures the suite_semantic_facts
// table and its indexes exist. The pool is opened eagerly but the schema is only
// touched once, at construction.
func NewPgvectorStore(ctx context.Context, connURL string, dimensions int, log zerolog.Logger) (*PgvectorStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}

	s := &PgvectorStore{pool: pool, dimensions: dimensions, log: log}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}
	s.log.Info().Int("dims", dimensions).Msg("pgvector store initialized")
	return s, nil
}

func (s *PgvectorStore) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS suite_semantic_facts (
			id         TEXT NOT NULL,
			suite_user TEXT NOT NULL,
			category   TEXT NOT NULL DEFAULT '',
			fact_key   TEXT NOT NULL DEFAULT '',
			text       TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (suite_user, id)
		);

		CREATE INDEX IF NOT EXISTS idx_suite_semantic_facts_user ON suite_semantic_facts (suite_user);
		CREATE INDEX IF NOT EXISTS idx_suite_semantic_facts_category ON suite_semantic_facts (suite_user, category);
	`, s.dimensions)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PgvectorStore) Kind() string { return "pgvector" }

func (s *PgvectorStore) Upsert(ctx context.Context, user string, facts []models.SemanticFact) error {
	if len(facts) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO suite_semantic_facts (id, suite_user, category, fact_key, text, confidence, embedding, created_at)
		VALUES `)

	args := make([]interface{}, 0, len(facts)*8)
	for i, f := range facts {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*8 + 1
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base, base+1, base+2, base+3, base+4, base+5, base+6, base+7))
		id := f.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := f.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		args = append(args, id, user, f.Category, f.Key, f.Text, f.Confidence, pgvectorArray(f.Embedding), createdAt)
	}

	sb.WriteString(` ON CONFLICT (suite_user, id) DO UPDATE SET
		category = EXCLUDED.category,
		fact_key = EXCLUDED.fact_key,
		text = EXCLUDED.text,
		confidence = EXCLUDED.confidence,
		embedding = EXCLUDED.embedding`)

	_, err := s.pool.Exec(ctx, sb.String(), args...)
	return err
}

func (s *PgvectorStore) Search(ctx context.Context, user string, vector []float64, topK int, filter map[string]string) ([]models.SemanticHit, error) {
	query := `SELECT id, fact_key, text, 1 - (embedding <=> $1) AS score
		FROM suite_semantic_facts
		WHERE suite_user = $2`
	args := []interface{}{pgvectorArray(vector), user}
	argIdx := 3

	if category, ok := filter["category"]; ok && category != "" {
		query += fmt.Sprintf(" AND category = $%d", argIdx)
		args = append(args, category)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", argIdx)
	args = append(args, topK)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	var hits []models.SemanticHit
	for rows.Next() {
		var h models.SemanticHit
		if err := rows.Scan(&h.ID, &h.Key, &h.Text, &h.Score); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *PgvectorStore) Delete(ctx context.Context, user string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, "DELETE FROM suite_semantic_facts WHERE suite_user = $1 AND id = ANY($2)", user, ids)
	return err
}

func (s *PgvectorStore) Count(ctx context.Context, user string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM suite_semantic_facts WHERE suite_user = $1", user).Scan(&count)
	return count, err
}

func (s *PgvectorStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PgvectorStore) Close() {
	s.pool.Close()
}

func pgvectorArray(v []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%g", f))
	}
	sb.WriteByte(']')
	return sb.String()
}
