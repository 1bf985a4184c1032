package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"blackhole/pkg/answer"
	"blackhole/pkg/config"
	"blackhole/pkg/reload"
	"blackhole/pkg/rules"
	"blackhole/pkg/storage"
	"blackhole/pkg/tempanswer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
rules:
  "10.0.0.1":
    - pattern: 'a\.com'
      answer: 1.1.1.1
  "10.0.0.2":
    - pattern: 'b\.com'
      answer: 2.2.2.2
`

type fixture struct {
	server  *Server
	store   *rules.Store
	storage storage.Storage
	temp    *tempanswer.Registry
	manager *reload.Manager
	source  string
}

func newFixture(t *testing.T, auth config.APIConfig) *fixture {
	t.Helper()

	st, err := storage.NewSQLiteStorage(&config.StorageConfig{
		Enabled:       true,
		DatabasePath:  ":memory:",
		BufferSize:    100,
		BatchSize:     10,
		FlushInterval: 10 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	temp, err := tempanswer.New(&config.TempAnswersConfig{TTL: time.Minute, MaxEntries: 100}, nil)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{store: rules.NewStore(), storage: st, temp: temp, source: testConfig}
	f.manager = reload.New(f.store, st, nil, nil)
	f.manager.SetSource(func() (*config.Config, error) { return config.Parse([]byte(f.source)) })
	require.NoError(t, f.manager.Reload(context.Background()))

	f.server = New(&Config{
		Auth:        auth,
		Storage:     st,
		Rules:       f.store,
		Reload:      f.manager,
		TempAnswers: temp,
		Logger:      logger,
		Version:     "test",
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, config.APIConfig{})
	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alive", decode[LivenessResponse](t, rec).Status)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, config.APIConfig{})
	require.NoError(t, f.temp.Add("10.0.0.1", "mail.a.com", answer.KindAddress, "1.1.1.1"))

	rec := f.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, 2, resp.RuleClients)
	assert.Equal(t, 1, resp.TempAnswers)
	assert.Equal(t, "ok", resp.Storage)
	assert.NotEmpty(t, resp.RulesUpdated)
}

func TestListRules(t *testing.T) {
	f := newFixture(t, config.APIConfig{})
	rec := f.do(t, http.MethodGet, "/api/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[RulesResponse](t, rec)
	require.Equal(t, 2, resp.Total)
	assert.Equal(t, "10.0.0.1", resp.Clients[0].Client)
	assert.Equal(t, []rules.Entry{{Pattern: `a\.com`, Answer: "1.1.1.1"}}, resp.Clients[0].Rules)
	assert.Equal(t, "10.0.0.2", resp.Clients[1].Client)
}

func TestGetRules(t *testing.T) {
	f := newFixture(t, config.APIConfig{})

	rec := f.do(t, http.MethodGet, "/api/rules/::ffff:10.0.0.2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ClientRulesResponse](t, rec)
	assert.Equal(t, "10.0.0.2", resp.Client)
	assert.Len(t, resp.Rules, 1)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/rules/10.0.0.3", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/rules/bogus", "").Code)
}

func TestPutRulesReplacesOneClient(t *testing.T) {
	f := newFixture(t, config.APIConfig{})
	before, _ := f.store.Lookup("10.0.0.2")

	rec := f.do(t, http.MethodPut, "/api/rules/10.0.0.1",
		`{"rules":[{"pattern":"x\\.org","answer":"do_nothing"},{"pattern":"a\\.com","answer":"9.9.9.9"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[ClientRulesResponse](t, rec)
	assert.Len(t, resp.Rules, 2)

	rs, ok := f.store.Lookup("10.0.0.1")
	require.True(t, ok)
	r, ok := rs.First("a.com")
	require.True(t, ok)
	assert.Equal(t, "9.9.9.9", r.Answer())

	after, _ := f.store.Lookup("10.0.0.2")
	assert.Same(t, before, after, "other clients keep their RuleSet")

	overrides, err := f.storage.GetRuleOverrides(context.Background())
	require.NoError(t, err)
	assert.Len(t, overrides["10.0.0.1"], 2)
}

func TestPutRulesValidation(t *testing.T) {
	f := newFixture(t, config.APIConfig{})

	tests := []struct {
		name string
		path string
		body string
	}{
		{"bad json", "/api/rules/10.0.0.1", `{`},
		{"unknown field", "/api/rules/10.0.0.1", `{"rulez":[]}`},
		{"bad regex", "/api/rules/10.0.0.1", `{"rules":[{"pattern":"(","answer":"x"}]}`},
		{"empty answer", "/api/rules/10.0.0.1", `{"rules":[{"pattern":"a","answer":""}]}`},
		{"bad client", "/api/rules/nope", `{"rules":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestDeleteRulesRestoresConfig(t *testing.T) {
	f := newFixture(t, config.APIConfig{})

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/rules/10.0.0.1", `{"rules":[]}`).Code)
	rs, _ := f.store.Lookup("10.0.0.1")
	assert.Equal(t, 0, rs.Len())

	rec := f.do(t, http.MethodDelete, "/api/rules/10.0.0.1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ClientRulesResponse](t, rec).Rules, 1)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/rules/10.0.0.1", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodDelete, "/api/rules/nope", "").Code)
}

func TestReloadRules(t *testing.T) {
	f := newFixture(t, config.APIConfig{})

	f.source = `
rules:
  "10.0.0.7":
    - pattern: 'c'
      answer: 7.7.7.7
`
	rec := f.do(t, http.MethodPost, "/api/rules/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ReloadResponse](t, rec).Clients)

	_, ok := f.store.Lookup("10.0.0.1")
	assert.False(t, ok)

	f.source = `
rules:
  "10.0.0.7":
    - pattern: '('
      answer: x
`
	before := f.store.Snapshot()
	rec = f.do(t, http.MethodPost, "/api/rules/reload", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Same(t, before, f.store.Snapshot())
}

func TestReloadWithoutSource(t *testing.T) {
	f := newFixture(t, config.APIConfig{})
	f.manager.SetSource(nil)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/api/rules/reload", "").Code)
}

func TestTempAnswers(t *testing.T) {
	f := newFixture(t, config.APIConfig{})
	require.NoError(t, f.temp.Add("10.0.0.1", "mail.a.com", answer.KindAddress, "1.1.1.1"))
	require.NoError(t, f.temp.Add("10.0.0.1", "1.1.1.1.in-addr.arpa.", answer.KindPTR, "a.com"))

	rec := f.do(t, http.MethodGet, "/api/temp-answers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[TempAnswersResponse](t, rec)
	require.Equal(t, 2, resp.Total)
	assert.Equal(t, "1.1.1.1.in-addr.arpa", resp.Entries[0].Name)

	rec = f.do(t, http.MethodDelete, "/api/temp-answers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[PurgeResponse](t, rec).Removed)
	assert.Equal(t, 0, f.temp.Len())
}

func TestQueries(t *testing.T) {
	f := newFixture(t, config.APIConfig{})
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, f.storage.LogQuery(ctx, &storage.QueryLog{Timestamp: now, ClientIP: "10.0.0.1", Domain: "a.com", QueryType: "A", Outcome: "matched", Provider: "patterns", Answer: "1.1.1.1"}))
	require.NoError(t, f.storage.LogQuery(ctx, &storage.QueryLog{Timestamp: now.Add(time.Second), ClientIP: "10.0.0.2", Domain: "z.com", QueryType: "A", Outcome: "no_opinion", ResponseCode: 3}))

	require.Eventually(t, func() bool {
		got, err := f.storage.GetRecentQueries(ctx, 10, 0)
		return err == nil && len(got) == 2
	}, 2*time.Second, 10*time.Millisecond)

	rec := f.do(t, http.MethodGet, "/api/queries?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[QueriesResponse](t, rec)
	require.Equal(t, 2, resp.Total)
	assert.Equal(t, "z.com", resp.Queries[0].Domain)
	assert.Equal(t, 10, resp.Limit)

	rec = f.do(t, http.MethodGet, "/api/queries?client=10.0.0.1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[QueriesResponse](t, rec)
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, "patterns", resp.Queries[0].Provider)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/queries?client=nope", "").Code)
}

type failingStorage struct{ storage.NoOpStorage }

func (failingStorage) GetRecentQueries(context.Context, int, int) ([]*storage.QueryLog, error) {
	return nil, errors.New("disk on fire")
}

func (failingStorage) Ping(context.Context) error { return errors.New("disk on fire") }

func TestStorageFailures(t *testing.T) {
	s := New(&Config{
		Storage: &failingStorage{},
		Rules:   rules.NewStore(),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queries", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decode[HealthResponse](t, rec).Status)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, config.APIConfig{})
	rec := f.do(t, http.MethodOptions, "/api/rules", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	f = newFixture(t, config.APIConfig{CORSOrigins: []string{"https://admin.example"}})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://admin.example")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://admin.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
