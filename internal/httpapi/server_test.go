package httpapi

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pcgarena/arena/internal/arena"
	"github.com/pcgarena/arena/internal/auth"
	"github.com/pcgarena/arena/internal/mailer"
	"github.com/pcgarena/arena/internal/storage/sqlite"
	"github.com/pcgarena/arena/internal/submit"
	"github.com/pcgarena/arena/internal/types"
)

const testSession = "44444444-4444-4444-8444-444444444444"

type capturingMailer struct {
	sent []mailer.Message
}

func (m *capturingMailer) Send(_ context.Context, msg mailer.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

type fixture struct {
	srv    *httptest.Server
	store  *sqlite.Store
	mail   *capturingMailer
	client *http.Client
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "arena.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	logger := zap.NewNop()
	params := arena.DefaultParams()
	arenaSvc := arena.NewService(store, params, logger)
	mail := &capturingMailer{}
	authSvc := auth.NewService(store, mail, auth.Params{
		BaseURL:     "https://arena.test",
		AdminEmails: []string{"ops@arena.test"},
	}, logger)
	submitSvc := submit.NewService(store, params.Rating, logger)

	if opts.Version == "" {
		opts.Version = "test"
	}
	if opts.BattlesPerMinute == 0 {
		opts.BattlesPerMinute = 1000
	}
	if opts.VotesPerMinute == 0 {
		opts.VotesPerMinute = 1000
	}
	server := NewServer(arenaSvc, authSvc, submitSvc, store, opts, logger)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	jar := newCookieClient(srv.Client())
	return &fixture{srv: srv, store: store, mail: mail, client: jar}
}

// newCookieClient gives the test client a cookie jar so session
// cookies round-trip like a browser.
func newCookieClient(base *http.Client) *http.Client {
	jar, _ := cookiejar.New(nil)
	c := *base
	c.Jar = jar
	return &c
}

func (f *fixture) seedGenerators(t *testing.T, ids ...string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	for _, id := range ids {
		require.NoError(t, f.store.UpsertGenerator(ctx, &types.Generator{
			ID: id, Name: strings.ToUpper(id), IsActive: true,
			CreatedAt: now, UpdatedAt: now,
		}))
		for i := 0; i < 2; i++ {
			body := tilemapBody(20+i, i)
			canonical, width, verr := types.ValidateTilemap(body, "seed.txt")
			require.NoError(t, verr)
			require.NoError(t, f.store.InsertLevel(ctx, &types.Level{
				ID:          fmt.Sprintf("lvl_%s_%d", id, i),
				GeneratorID: id,
				Format:      types.FormatASCIITilemap,
				Width:       width,
				Height:      types.LevelHeight,
				Tilemap:     canonical,
				ContentHash: types.ContentHash(canonical),
				IsActive:    true,
				CreatedAt:   now,
			}))
		}
		require.NoError(t, f.store.UpsertRating(ctx, &types.Rating{
			GeneratorID: id, Value: 1000, RD: 350, Volatility: 0.06, UpdatedAt: now,
		}))
	}
}

func tilemapBody(width, variant int) string {
	rows := make([]string, types.LevelHeight)
	for i := range rows {
		rows[i] = strings.Repeat("-", width)
	}
	if variant > 0 {
		rows[0] = "o" + strings.Repeat("-", width-1)
	}
	rows[types.LevelHeight-1] = strings.Repeat("X", width)
	return strings.Join(rows, "\n") + "\n"
}

func (f *fixture) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := f.client.Post(f.srv.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthEnvelope(t *testing.T) {
	f := newFixture(t, Options{})
	resp, err := f.client.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	health := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "arena/v0", health["protocol_version"])
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "test", health["version"])
	assert.Contains(t, health, "uptime_seconds")
	assert.Contains(t, health, "db_size_bytes")
}

func TestBattleVoteRoundTrip(t *testing.T) {
	f := newFixture(t, Options{})
	f.seedGenerators(t, "alpha", "beta")

	resp := f.postJSON(t, "/v1/battles:next", map[string]any{
		"client_version": "0.1.0",
		"session_id":     testSession,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	battle := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "arena/v0", battle["protocol_version"])
	battleID, _ := battle["battle_id"].(string)
	require.NotEmpty(t, battleID)

	resp = f.postJSON(t, "/v1/votes", map[string]any{
		"client_version": "0.1.0",
		"session_id":     testSession,
		"battle_id":      battleID,
		"result":         "LEFT",
		"left_tags":      []string{"fun"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	vote := decodeBody[map[string]any](t, resp)
	assert.Equal(t, true, vote["accepted"])
	assert.NotEmpty(t, vote["vote_id"])
	assert.NotEmpty(t, vote["leaderboard_preview"])

	// Leaderboard reflects the outcome.
	lbResp, err := f.client.Get(f.srv.URL + "/v1/leaderboard")
	require.NoError(t, err)
	lb := decodeBody[map[string]any](t, lbResp)
	gens, _ := lb["generators"].([]any)
	require.Len(t, gens, 2)
}

func TestErrorEnvelopeShape(t *testing.T) {
	f := newFixture(t, Options{})
	f.seedGenerators(t, "alpha", "beta")

	resp := f.postJSON(t, "/v1/votes", map[string]any{
		"client_version": "0.1.0",
		"session_id":     testSession,
		"battle_id":      "btl_missing",
		"result":         "LEFT",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "arena/v0", body["protocol_version"])
	errObj, _ := body["error"].(map[string]any)
	require.NotNil(t, errObj)
	assert.Equal(t, "BATTLE_NOT_FOUND", errObj["code"])
	assert.Equal(t, false, errObj["retryable"])
}

func TestNoBattleAvailableIsRetryable(t *testing.T) {
	f := newFixture(t, Options{})
	resp := f.postJSON(t, "/v1/battles:next", map[string]any{
		"client_version": "0.1.0",
		"session_id":     testSession,
	})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	errObj, _ := body["error"].(map[string]any)
	assert.Equal(t, "NO_BATTLE_AVAILABLE", errObj["code"])
	assert.Equal(t, true, errObj["retryable"])
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Options{BattlesPerMinute: 2})
	f.seedGenerators(t, "alpha", "beta")

	var last *http.Response
	for i := 0; i < 3; i++ {
		last = f.postJSON(t, "/v1/battles:next", map[string]any{
			"client_version": "0.1.0",
			"session_id":     testSession,
		})
		if i < 2 {
			assert.Equal(t, http.StatusOK, last.StatusCode)
			last.Body.Close()
		}
	}
	require.Equal(t, http.StatusTooManyRequests, last.StatusCode)
	body := decodeBody[map[string]any](t, last)
	errObj, _ := body["error"].(map[string]any)
	assert.Equal(t, "RATE_LIMITED", errObj["code"])
	assert.Equal(t, true, errObj["retryable"])
}

var linkToken = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

func (f *fixture) registerAndLogin(t *testing.T, email string) {
	t.Helper()
	resp := f.postJSON(t, "/v1/auth/register", map[string]any{
		"email": email, "password": "Sup3rSecret", "display_name": "Builder",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	m := linkToken.FindStringSubmatch(f.mail.sent[len(f.mail.sent)-1].TextBody)
	require.Len(t, m, 2)
	resp = f.postJSON(t, "/v1/auth/verify-email", map[string]any{"token": m[1]})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = f.postJSON(t, "/v1/auth/login", map[string]any{
		"email": email, "password": "Sup3rSecret",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestAuthFlowOverHTTP(t *testing.T) {
	f := newFixture(t, Options{})

	// No session yet.
	resp, err := f.client.Get(f.srv.URL + "/v1/auth/me")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	f.registerAndLogin(t, "builder@example.com")

	resp, err = f.client.Get(f.srv.URL + "/v1/auth/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "builder@example.com", me["email"])

	// Plain users are not admins.
	resp, err = f.client.Get(f.srv.URL + "/v1/auth/me/admin")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = f.postJSON(t, "/v1/auth/logout", map[string]any{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = f.client.Get(f.srv.URL + "/v1/auth/me")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func uploadBody(t *testing.T, fields map[string]string, levelCount int) (*bytes.Buffer, string) {
	t.Helper()
	var zipBuf bytes.Buffer
	zw := zip.NewWriter(&zipBuf)
	for i := 0; i < levelCount; i++ {
		w, err := zw.Create(fmt.Sprintf("lvl-%03d.txt", i))
		require.NoError(t, err)
		_, err = w.Write([]byte(tilemapBody(20+i, 0)))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("levels_zip", "levels.zip")
	require.NoError(t, err)
	_, err = io.Copy(fw, &zipBuf)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestBuilderUploadOverHTTP(t *testing.T) {
	f := newFixture(t, Options{})
	f.registerAndLogin(t, "builder@example.com")

	body, contentType := uploadBody(t, map[string]string{
		"generator_id": "ga-markov",
		"name":         "Markov Chains",
		"version":      "1.0.0",
	}, 50)
	resp, err := f.client.Post(f.srv.URL+"/v1/builders/generators/upload", contentType, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "ga-markov", created["generator_id"])
	assert.EqualValues(t, 50, created["level_count"])

	// The new generator shows up under the builder's account.
	resp, err = f.client.Get(f.srv.URL + "/v1/builders/me/generators")
	require.NoError(t, err)
	owned := decodeBody[map[string]any](t, resp)
	gens, _ := owned["generators"].([]any)
	require.Len(t, gens, 1)

	// Generator detail is public.
	resp, err = f.client.Get(f.srv.URL + "/v1/generators/ga-markov")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Anonymous upload is rejected.
	body, contentType = uploadBody(t, map[string]string{"generator_id": "ga-other"}, 50)
	anon, err := f.srv.Client().Post(f.srv.URL+"/v1/builders/generators/upload", contentType, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, anon.StatusCode)
	anon.Body.Close()
}

func TestAdminBearerKey(t *testing.T) {
	f := newFixture(t, Options{AdminBearerKey: "hunter2"})
	f.seedGenerators(t, "alpha", "beta")

	do := func(key string) int {
		req, err := http.NewRequest(http.MethodPost,
			f.srv.URL+"/admin/generators/alpha/disable", nil)
		require.NoError(t, err)
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
		resp, err := f.srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusUnauthorized, do(""))
	assert.Equal(t, http.StatusUnauthorized, do("wrong"))
	assert.Equal(t, http.StatusOK, do("hunter2"))

	gen, err := f.store.GetGenerator(context.Background(), "alpha")
	require.NoError(t, err)
	assert.False(t, gen.IsActive)

	// Re-enable.
	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/admin/generators/alpha/enable", nil)
	req.Header.Set("Authorization", "Bearer hunter2")
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestCORSHeaders(t *testing.T) {
	f := newFixture(t, Options{CORSOrigins: []string{"https://play.test"}})

	req, _ := http.NewRequest(http.MethodOptions, f.srv.URL+"/v1/leaderboard", nil)
	req.Header.Set("Origin", "https://play.test")
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://play.test", resp.Header.Get("Access-Control-Allow-Origin"))
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodOptions, f.srv.URL+"/v1/leaderboard", nil)
	req.Header.Set("Origin", "https://evil.test")
	resp, err = f.srv.Client().Do(req)
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	resp.Body.Close()
}

func TestRequestIDPropagation(t *testing.T) {
	f := newFixture(t, Options{})

	resp, err := f.client.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/health", nil)
	req.Header.Set("X-Request-Id", "req-test-77")
	resp, err = f.srv.Client().Do(req)
	require.NoError(t, err)
	assert.Equal(t, "req-test-77", resp.Header.Get("X-Request-Id"))
	resp.Body.Close()
}
