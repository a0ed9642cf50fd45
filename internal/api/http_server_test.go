package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cartbroker/internal/availability"
	"cartbroker/internal/cache"
	"cartbroker/internal/config"
	"cartbroker/internal/tables"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var msk = time.FixedZone("MSK", 3*60*60)

type fixture struct {
	gw       *tables.MemoryGateway
	snapshot *cache.Snapshot
	engine   *availability.Engine
}

func newFixture(t *testing.T, load bool) *fixture {
	t.Helper()
	gw := tables.NewMemoryGateway()
	gw.Seed(tables.Users, tables.Row{tables.ColHandle: "alice", tables.ColChatID: "101"})
	gw.Seed(tables.Carts,
		tables.Row{tables.ColName: "Cart 1", tables.ColLockCode: "1111", tables.ColActive: "yes"},
		tables.Row{tables.ColName: "Cart 2", tables.ColLockCode: "2222", tables.ColActive: "yes"},
	)
	gw.Seed(tables.Reservations,
		tables.Row{
			tables.ColID:     "1760425200000",
			tables.ColCart:   "Cart 1",
			tables.ColStart:  "2026-10-14 10:00",
			tables.ColEnd:    "2026-10-14 11:00",
			tables.ColHolder: "alice",
			tables.ColStatus: "pending",
		},
		tables.Row{
			tables.ColID:     "1760432400000",
			tables.ColCart:   "Cart 2",
			tables.ColStart:  "2026-10-15 12:00",
			tables.ColEnd:    "2026-10-15 13:00",
			tables.ColHolder: "alice",
			tables.ColStatus: "active",
		},
	)

	logger := zerolog.Nop()
	clock := func() time.Time { return time.Date(2026, 10, 14, 9, 0, 0, 0, msk) }
	snapshot := cache.NewSnapshot(gw, msk, &logger, cache.WithClock(clock))
	if load {
		_, err := snapshot.Refresh(context.Background(), cache.ScopeAll, true)
		require.NoError(t, err)
	}
	engine := availability.NewEngine(snapshot, snapshot.Slots(), msk, availability.DefaultRules(), availability.WithClock(clock))
	return &fixture{gw: gw, snapshot: snapshot, engine: engine}
}

func (f *fixture) server(cfg config.APIConfig) *httptest.Server {
	logger := zerolog.Nop()
	srv := NewHTTPServer(cfg, f.engine, f.snapshot, &logger)
	return httptest.NewServer(srv.Handler())
}

func openAPI() config.APIConfig {
	return config.APIConfig{Enabled: true, HTTP: config.APIHTTPConfig{Enabled: true}}
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthz(t *testing.T) {
	t.Run("Loading", func(t *testing.T) {
		ts := newFixture(t, false).server(openAPI())
		t.Cleanup(ts.Close)

		var body map[string]string
		resp := getJSON(t, ts.URL+"/healthz", &body)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "loading", body["status"])
	})

	t.Run("Ready", func(t *testing.T) {
		ts := newFixture(t, true).server(openAPI())
		t.Cleanup(ts.Close)

		var body map[string]string
		resp := getJSON(t, ts.URL+"/healthz", &body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ok", body["status"])
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	})
}

func TestAvailability(t *testing.T) {
	ts := newFixture(t, true).server(openAPI())
	t.Cleanup(ts.Close)

	var body struct {
		Available int    `json:"available"`
		Cart      string `json:"cart"`
	}
	resp := getJSON(t, ts.URL+"/api/v1/availability?start=2026-10-14T10:30&end=2026-10-14T11:30", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, body.Available)
	assert.Equal(t, "Cart 2", body.Cart)

	// полуинтервалы: 11:00 уже свободно
	body.Cart = ""
	getJSON(t, ts.URL+"/api/v1/availability?start=2026-10-14T11:00&end=2026-10-14T12:00", &body)
	assert.Equal(t, 2, body.Available)
	assert.Equal(t, "Cart 1", body.Cart)
}

func TestAvailabilityBadRequest(t *testing.T) {
	ts := newFixture(t, true).server(openAPI())
	t.Cleanup(ts.Close)

	cases := map[string]string{
		"missing":  "/api/v1/availability?start=2026-10-14T10:00",
		"garbage":  "/api/v1/availability?start=soon&end=2026-10-14T10:00",
		"reversed": "/api/v1/availability?start=2026-10-14T11:00&end=2026-10-14T10:00",
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			resp := getJSON(t, ts.URL+path, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp, err := http.Post(ts.URL+"/api/v1/availability", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSlots(t *testing.T) {
	ts := newFixture(t, true).server(openAPI())
	t.Cleanup(ts.Close)

	var body struct {
		Date  string `json:"date"`
		Slots []struct {
			Time      string `json:"time"`
			Available int    `json:"available"`
		} `json:"slots"`
	}
	resp := getJSON(t, ts.URL+"/api/v1/slots?date=2026-10-14", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body.Slots)
	assert.Equal(t, "09:00", body.Slots[0].Time)
	assert.Equal(t, 2, body.Slots[0].Available)

	byTime := make(map[string]int)
	for _, s := range body.Slots {
		byTime[s.Time] = s.Available
	}
	assert.Equal(t, 1, byTime["10:00"])
	assert.Equal(t, 2, byTime["11:00"])

	resp = getJSON(t, ts.URL+"/api/v1/slots?date=14.10.2026", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExport(t *testing.T) {
	ts := newFixture(t, true).server(openAPI())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/v1/reservations/export.xlsx?from=2026-10-14&to=2026-10-14")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(reservationsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, reservationHeaders, rows[0])
	assert.Equal(t, "Cart 1", rows[1][1])
	assert.Equal(t, "2026-10-14 10:00", rows[1][2])
	assert.Equal(t, "@alice", rows[1][6])

	carts, err := f.GetRows(cartsSheet)
	require.NoError(t, err)
	assert.Len(t, carts, 3)
}

func TestExportBadRange(t *testing.T) {
	ts := newFixture(t, true).server(openAPI())
	t.Cleanup(ts.Close)

	resp := getJSON(t, ts.URL+"/api/v1/reservations/export.xlsx?from=2026-10-15&to=2026-10-14", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPAuth(t *testing.T) {
	cfg := openAPI()
	cfg.Auth = config.APIAuthConfig{
		Enabled: true,
		APIKeys: []config.APIClientKey{
			{Key: "reader", Extra: "secret", Permissions: []string{permReadAvailability}},
			{Key: "admin", Extra: "secret"},
		},
	}
	ts := newFixture(t, true).server(cfg)
	t.Cleanup(ts.Close)

	do := func(path, key, extra string) int {
		req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
		require.NoError(t, err)
		if key != "" {
			req.Header.Set("x-api-key", key)
			req.Header.Set("x-api-extra", extra)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, do("/healthz", "", ""))
	assert.Equal(t, http.StatusUnauthorized, do("/api/v1/slots?date=2026-10-14", "", ""))
	assert.Equal(t, http.StatusUnauthorized, do("/api/v1/slots?date=2026-10-14", "reader", "wrong"))
	assert.Equal(t, http.StatusOK, do("/api/v1/slots?date=2026-10-14", "reader", "secret"))
	assert.Equal(t, http.StatusForbidden, do("/api/v1/reservations/export.xlsx", "reader", "secret"))
	assert.Equal(t, http.StatusOK, do("/api/v1/reservations/export.xlsx", "admin", "secret"))
}

func TestHTTPRateLimit(t *testing.T) {
	cfg := openAPI()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 2}
	ts := newFixture(t, true).server(cfg)
	t.Cleanup(ts.Close)

	var codes []int
	for i := 0; i < 3; i++ {
		resp := getJSON(t, ts.URL+"/api/v1/slots?date=2026-10-14", nil)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// health checks are never limited
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/healthz", nil).StatusCode)
}

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "/api/v1/slots", endpointLabel("/api/v1/slots"))
	assert.Equal(t, "other", endpointLabel("/wp-admin"))
}
