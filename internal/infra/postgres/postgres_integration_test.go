//go:build integration

package postgres

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/legal-rag/internal/core/knowledge"
)

const testDimension = 3

var testDB *DB

func TestMain(m *testing.M) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not construct docker pool: %v\n", err)
		os.Exit(1)
	}
	if err := pool.Client.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to docker: %v\n", err)
		os.Exit(1)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg16",
		Env: []string{
			"POSTGRES_USER=legal",
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_DB=legal_rag",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not start postgres: %v\n", err)
		os.Exit(1)
	}
	_ = resource.Expire(180)

	port, _ := strconv.Atoi(resource.GetPort("5432/tcp"))
	params := ConnectionParams{
		Host:     "localhost",
		Port:     port,
		User:     "legal",
		Password: "secret",
		DBName:   "legal_rag",
		SSLMode:  "disable",
	}

	pool.MaxWait = 2 * time.Minute
	if err := pool.Retry(func() error {
		db, err := New(context.Background(), params)
		if err != nil {
			return err
		}
		testDB = db
		return nil
	}); err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to postgres: %v\n", err)
		_ = pool.Purge(resource)
		os.Exit(1)
	}

	if err := EnsureSchema(context.Background(), testDB.Pool, testDimension); err != nil {
		fmt.Fprintf(os.Stderr, "could not create schema: %v\n", err)
		_ = pool.Purge(resource)
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	_ = pool.Purge(resource)
	os.Exit(code)
}

func resetTables(t *testing.T) {
	t.Helper()
	_, err := testDB.Pool.Exec(context.Background(), `TRUNCATE document_embeddings, embedding_cache`)
	require.NoError(t, err)
}

func strPtr(s string) *string { return &s }

func TestVectorStore_InsertSearchDelete(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := NewVectorStore(testDB.Pool)

	caseID := int64(10)
	meta := knowledge.DocumentMetadata{
		Kind:          knowledge.KindCase,
		SourceID:      10,
		RelatedCaseID: &caseID,
		Status:        strPtr("ativo"),
	}

	_, err := store.Insert(ctx, "Ação de cobrança", []float32{1, 0, 0}, meta.WithChunk(0, 0, 2))
	require.NoError(t, err)
	_, err = store.Insert(ctx, "Acordo homologado", []float32{0.9, 0.1, 0}, meta.WithChunk(1, 100, 2))
	require.NoError(t, err)
	_, err = store.Insert(ctx, "Audiência designada", []float32{0, 1, 0},
		knowledge.DocumentMetadata{Kind: knowledge.KindHearing, SourceID: 3}.WithChunk(0, 0, 1))
	require.NoError(t, err)

	results, err := store.NearestNeighbors(ctx, []float32{1, 0, 0}, 0.5, 10, knowledge.MetadataFilter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Ação de cobrança", results[0].Text)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.GreaterOrEqual(t, results[0].Similarity, results[1].Similarity)
	assert.Equal(t, 1, results[1].Metadata.ChunkIndex)
	require.NotNil(t, results[1].Metadata.Status)
	assert.Equal(t, "ativo", *results[1].Metadata.Status)

	filtered, err := store.NearestNeighbors(ctx, []float32{1, 0, 0}, 0, 10, knowledge.MetadataFilter{
		Kinds: []knowledge.Kind{knowledge.KindHearing},
	})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, knowledge.KindHearing, filtered[0].Metadata.Kind)

	byStatus, err := store.NearestNeighbors(ctx, []float32{1, 0, 0}, 0, 10, knowledge.MetadataFilter{
		Status:        strPtr("ativo"),
		RelatedCaseID: &caseID,
	})
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	first, err := store.GetFirstChunk(ctx, knowledge.KindCase, 10)
	require.NoError(t, err)
	chunk, ok := first.Get()
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0, 0}, chunk.Embedding)

	count, err := store.CountByDocument(ctx, knowledge.KindCase, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	removed, err := store.DeleteWhere(ctx, knowledge.KindCase, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	missing, err := store.GetFirstChunk(ctx, knowledge.KindCase, 10)
	require.NoError(t, err)
	assert.Equal(t, mo.None[knowledge.StoredChunk](), missing)

	perKind, err := store.CountByKind(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[knowledge.Kind]int{knowledge.KindHearing: 1}, perKind)
}

func TestVectorStore_NearestNeighborsBeyondIndexCandidates(t *testing.T) {
	resetTables(t)
	ctx := context.Background()

	// 件数が少ないとシーケンシャルスキャンが選ばれるため、HNSW インデックスを強制する
	tx, err := testDB.Pool.Begin(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tx.Rollback(context.Background()) })
	_, err = tx.Exec(ctx, "SET LOCAL enable_seqscan = off")
	require.NoError(t, err)

	store := NewVectorStore(tx)
	for i := range 60 {
		_, err := store.Insert(ctx, fmt.Sprintf("Processo %d", i), []float32{1, float32(i) * 0.001, 0},
			knowledge.DocumentMetadata{Kind: knowledge.KindCase, SourceID: int64(i + 1)}.WithChunk(0, 0, 1))
		require.NoError(t, err)
	}
	for i := range 3 {
		_, err := store.Insert(ctx, fmt.Sprintf("Audiência %d", i), []float32{0.1, 1, float32(i) * 0.001},
			knowledge.DocumentMetadata{Kind: knowledge.KindHearing, SourceID: int64(i + 1)}.WithChunk(0, 0, 1))
		require.NoError(t, err)
	}

	// 近傍の上位はすべて case だが、フィルタに一致する hearing が欠けてはならない
	hearings, err := store.NearestNeighbors(ctx, []float32{1, 0, 0}, 0, 10, knowledge.MetadataFilter{
		Kinds: []knowledge.Kind{knowledge.KindHearing},
	})
	require.NoError(t, err)
	require.Len(t, hearings, 3)
	for _, h := range hearings {
		assert.Equal(t, knowledge.KindHearing, h.Metadata.Kind)
	}

	// 既定の ef_search(40) を超える件数も返る
	wide, err := store.NearestNeighbors(ctx, []float32{1, 0, 0}, 0, 50, knowledge.MetadataFilter{})
	require.NoError(t, err)
	require.Len(t, wide, 50)
	for i := 1; i < len(wide); i++ {
		assert.GreaterOrEqual(t, wide[i-1].Similarity, wide[i].Similarity)
	}
}

func TestVectorStore_DuplicateChunkIsStoreError(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := NewVectorStore(testDB.Pool)
	meta := knowledge.DocumentMetadata{Kind: knowledge.KindFiling, SourceID: 1}.WithChunk(0, 0, 1)

	_, err := store.Insert(ctx, "Petição", []float32{1, 1, 0}, meta)
	require.NoError(t, err)
	_, err = store.Insert(ctx, "Petição", []float32{1, 1, 0}, meta)
	require.Error(t, err)
	assert.ErrorIs(t, err, knowledge.ErrStore)
	assert.True(t, IsUniqueViolation(err))
}

func TestLexicalSearcher_SubstringMatch(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	store := NewVectorStore(testDB.Pool)
	lexical := NewLexicalSearcher(testDB.Pool)

	_, err := store.Insert(ctx, "Proposta de ACORDO enviada", []float32{1, 0, 0},
		knowledge.DocumentMetadata{Kind: knowledge.KindCase, SourceID: 1}.WithChunk(0, 0, 1))
	require.NoError(t, err)
	_, err = store.Insert(ctx, "Honorários de 20% sobre o valor", []float32{0, 1, 0},
		knowledge.DocumentMetadata{Kind: knowledge.KindLedgerEntry, SourceID: 2}.WithChunk(0, 0, 1))
	require.NoError(t, err)

	results, err := lexical.SubstringMatch(ctx, "acordo", 10, knowledge.MetadataFilter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].Metadata.SourceID)

	// % はワイルドカードではなくリテラルとして扱う
	percent, err := lexical.SubstringMatch(ctx, "20%", 10, knowledge.MetadataFilter{})
	require.NoError(t, err)
	require.Len(t, percent, 1)

	none, err := lexical.SubstringMatch(ctx, "%", 10, knowledge.MetadataFilter{Kinds: []knowledge.Kind{knowledge.KindCase}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestEmbeddingCache_ExpiryIsEnforcedByBackend(t *testing.T) {
	resetTables(t)
	ctx := context.Background()
	cache := NewEmbeddingCache(testDB.Pool, "test-model")

	require.NoError(t, cache.Put(ctx, "fresh", []float32{1, 2, 3}, time.Hour))
	require.NoError(t, cache.Put(ctx, "stale", []float32{4, 5, 6}, time.Hour))
	_, err := testDB.Pool.Exec(ctx, `UPDATE embedding_cache SET expires_at = now() - interval '1 minute' WHERE cache_key = 'stale'`)
	require.NoError(t, err)

	fresh, err := cache.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, mo.Some([]float32{1, 2, 3}), fresh)

	stale, err := cache.Get(ctx, "stale")
	require.NoError(t, err)
	assert.True(t, stale.IsAbsent())

	purged, err := cache.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestWithAdvisoryLock_SecondHolderFails(t *testing.T) {
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := WithAdvisoryLock(ctx, testDB.Pool, "reindex", func(ctx context.Context) (struct{}, error) {
			close(entered)
			<-release
			return struct{}{}, nil
		})
		done <- err
	}()

	<-entered
	_, err := WithAdvisoryLock(ctx, testDB.Pool, "reindex", func(ctx context.Context) (int, error) {
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	close(release)
	require.NoError(t, <-done)

	n, err := WithAdvisoryLock(ctx, testDB.Pool, "reindex", func(ctx context.Context) (int, error) {
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEntitySources_ListAll(t *testing.T) {
	ctx := context.Background()
	_, err := testDB.Pool.Exec(ctx, `
DROP TABLE IF EXISTS ledger_entries, hearings, filings, cases, clients;
CREATE TABLE clients (id bigint PRIMARY KEY, name text NOT NULL, tax_id text, email text, notes text, category text);
CREATE TABLE cases (id bigint PRIMARY KEY, number text NOT NULL, title text, description text, status text, court text, category text, client_id bigint, opened_at timestamptz);
CREATE TABLE filings (id bigint PRIMARY KEY, case_id bigint, title text, content text, status text, filed_at timestamptz);
CREATE TABLE hearings (id bigint PRIMARY KEY, case_id bigint, hearing_type text, location text, notes text, status text, scheduled_at timestamptz);
CREATE TABLE ledger_entries (id bigint PRIMARY KEY, case_id bigint, description text, category text, status text, amount_cents bigint NOT NULL, entry_date date);
INSERT INTO clients VALUES (1, 'Maria Souza', '123.456.789-00', NULL, NULL, 'pessoa física');
INSERT INTO cases VALUES (7, '0001234-56.2024.8.26.0100', 'Ação de cobrança', 'Cobrança de aluguéis atrasados', 'ativo', 'TJSP', 'cível', 1, '2024-03-01T00:00:00Z');
INSERT INTO filings VALUES (3, 7, 'Petição inicial', 'Requer a citação do réu', 'protocolada', NULL);
INSERT INTO hearings VALUES (4, 7, 'conciliação', 'Fórum central', NULL, 'agendada', '2024-05-10T14:00:00Z');
INSERT INTO ledger_entries VALUES (5, 7, 'Custas iniciais', 'custas', 'pago', 15050, '2024-03-02');
`)
	require.NoError(t, err)

	sources := EntitySources(testDB.Pool)
	require.Len(t, sources, 5)

	for _, source := range sources {
		docs, err := source.ListAll(ctx)
		require.NoError(t, err, source.Kind())
		require.Len(t, docs, 1, source.Kind())
		assert.Equal(t, source.Kind(), docs[0].Metadata.Kind)
		assert.NoError(t, docs[0].Metadata.Validate())
		assert.NotEmpty(t, docs[0].Text)
	}

	cases, err := NewCaseSource(testDB.Pool).ListAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, cases[0].Text, "Cliente: Maria Souza")
	require.NotNil(t, cases[0].Metadata.Court)
	assert.Equal(t, "TJSP", *cases[0].Metadata.Court)

	ledger, err := NewLedgerEntrySource(testDB.Pool).ListAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, ledger[0].Text, "R$ 150,50")
	require.NotNil(t, ledger[0].Metadata.RelatedCaseID)
	assert.Equal(t, int64(7), *ledger[0].Metadata.RelatedCaseID)
}
