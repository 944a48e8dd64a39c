package evaluation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/postgres"
)

// Schema creates the tables Store writes to.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS evaluation_runs (
	    id                       BIGSERIAL PRIMARY KEY,
	    run_id                   TEXT NOT NULL,
	    index_fingerprint        TEXT NOT NULL,
	    rank_depth               INT NOT NULL,
	    total_relevant           INT NOT NULL,
	    total_retrieved_relevant INT NOT NULL,
	    recall                   DOUBLE PRECISION NOT NULL,
	    created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS evaluation_queries (
	    run_pk             BIGINT NOT NULL REFERENCES evaluation_runs(id) ON DELETE CASCADE,
	    query_id           TEXT NOT NULL,
	    ranked             JSONB NOT NULL,
	    relevant           JSONB NOT NULL,
	    retrieved_relevant INT NOT NULL,
	    success            BOOLEAN NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS evaluation_runs_fingerprint_idx ON evaluation_runs (index_fingerprint, created_at DESC)`,
}

// Store persists evaluation reports in PostgreSQL.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "evaluation-store"),
	}
}

// EnsureSchema creates the evaluation tables if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.db.Migrate(ctx, Schema...); err != nil {
		return fmt.Errorf("creating evaluation schema: %w", err)
	}
	return nil
}

// Save writes the run row and every query outcome in one transaction.
func (s *Store) Save(ctx context.Context, runID, fingerprint string, report Report) error {
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		var runPK int64
		err := tx.QueryRowContext(ctx,
			`INSERT INTO evaluation_runs
			    (run_id, index_fingerprint, rank_depth, total_relevant, total_retrieved_relevant, recall, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
			runID, fingerprint, report.RankDepth, report.TotalRelevant,
			report.TotalRetrievedRelevant, report.Recall, time.Now().UTC(),
		).Scan(&runPK)
		if err != nil {
			return fmt.Errorf("inserting evaluation run: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO evaluation_queries
			    (run_pk, query_id, ranked, relevant, retrieved_relevant, success)
			 VALUES ($1, $2, $3, $4, $5, $6)`)
		if err != nil {
			return fmt.Errorf("preparing query insert: %w", err)
		}
		defer stmt.Close()
		for _, q := range report.Queries {
			ranked, err := json.Marshal(q.Ranked)
			if err != nil {
				return fmt.Errorf("marshaling ranked ids for %s: %w", q.QueryID, err)
			}
			relevant, err := json.Marshal(q.Relevant)
			if err != nil {
				return fmt.Errorf("marshaling relevant ids for %s: %w", q.QueryID, err)
			}
			if _, err := stmt.ExecContext(ctx, runPK, q.QueryID, ranked, relevant, q.RetrievedRelevant, q.Success); err != nil {
				return fmt.Errorf("inserting outcome for %s: %w", q.QueryID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("evaluation run saved",
		"run_id", runID,
		"queries", len(report.Queries),
		"recall", report.Recall,
	)
	return nil
}

// LatestRecall returns the recall of the most recent run for an index
// fingerprint. ok is false if no run exists.
func (s *Store) LatestRecall(ctx context.Context, fingerprint string) (recall float64, ok bool, err error) {
	err = s.db.DB.QueryRowContext(ctx,
		`SELECT recall FROM evaluation_runs WHERE index_fingerprint = $1 ORDER BY created_at DESC LIMIT 1`,
		fingerprint,
	).Scan(&recall)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("querying latest recall: %w", err)
	}
	return recall, true, nil
}
