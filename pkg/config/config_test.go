package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/bowretrieval/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Retrieval.RankDepth)
	assert.Equal(t, "word", cfg.Components.Tokenizer)
	assert.Equal(t, "bow", cfg.Components.Encoder)
	assert.Equal(t, "overlap", cfg.Components.Scorer)
	assert.Equal(t, "heap", cfg.Components.Ranker)
	assert.False(t, cfg.Evaluation.Enabled())
	assert.Equal(t, 10*time.Minute, cfg.Redis.CacheTTL)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "retriever.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
retrieval:
  corpusPath: data/corpus.tsv
  queryPath: data/queries.tsv
  rankDepth: 50
components:
  tokenizer: whitespace
evaluation:
  labelsPath: data/labels.json
redis:
  enabled: true
  cacheTTL: 30s
kafka:
  brokers: [k1:9092, k2:9092]
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "data/corpus.tsv", cfg.Retrieval.CorpusPath)
	assert.Equal(t, 50, cfg.Retrieval.RankDepth)
	assert.Equal(t, 4, cfg.Retrieval.Workers)
	assert.Equal(t, "whitespace", cfg.Components.Tokenizer)
	assert.Equal(t, "overlap", cfg.Components.Scorer)
	assert.True(t, cfg.Evaluation.Enabled())
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Redis.CacheTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval: [unclosed"), 0o644))
	_, err := Load(path)
	assert.ErrorIs(t, err, apperrors.ErrConfig)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BR_CORPUS_PATH", "/env/corpus.tsv")
	t.Setenv("BR_RANK_DEPTH", "25")
	t.Setenv("BR_WORKERS", "not-a-number")
	t.Setenv("BR_LABELS_PATH", "/env/labels.json")
	t.Setenv("BR_KAFKA_BROKERS", "a:1,b:2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/env/corpus.tsv", cfg.Retrieval.CorpusPath)
	assert.Equal(t, 25, cfg.Retrieval.RankDepth)
	assert.Equal(t, 4, cfg.Retrieval.Workers)
	assert.Equal(t, "/env/labels.json", cfg.Evaluation.LabelsPath)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Kafka.Brokers)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.ErrorIs(t, err, apperrors.ErrConfig)
	assert.Contains(t, err.Error(), "retrieval.corpusPath")
	assert.Contains(t, err.Error(), "retrieval.queryPath")

	cfg.Retrieval.CorpusPath = "c.tsv"
	cfg.Retrieval.QueryPath = "q.tsv"
	cfg.Retrieval.RankDepth = -1
	err = cfg.Validate()
	require.ErrorIs(t, err, apperrors.ErrConfig)
	assert.Contains(t, err.Error(), "rankDepth")

	cfg.Retrieval.RankDepth = 0
	assert.NoError(t, cfg.Validate())
}

func TestValidateStream(t *testing.T) {
	cfg := Default()
	cfg.Retrieval.CorpusPath = "c.tsv"
	err := cfg.ValidateStream()
	require.ErrorIs(t, err, apperrors.ErrConfig)
	assert.Contains(t, err.Error(), "kafka.enabled")

	cfg.Kafka.Enabled = true
	assert.NoError(t, cfg.ValidateStream())
}

func TestPostgresDSN(t *testing.T) {
	cfg := Default().Postgres
	assert.Contains(t, cfg.DSN(), "host=localhost")
	assert.Contains(t, cfg.DSN(), "dbname=retrieval")
}
