package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"hemicycle/internal/cache"
	"hemicycle/internal/metrics"
	"hemicycle/internal/models"
	"hemicycle/internal/parser"
	"hemicycle/internal/prefetch"
	"hemicycle/internal/remote"
	"hemicycle/internal/storage"
)

const scrutinJSON = `{"scrutin": {
	"titre": "Loi de finances",
	"ventilationVotes": {"organe": {"groupes": {"groupe": [
		{"organeRef": "PO1", "vote": {"decompteNominatif": {
			"pours": {"votant": [{"acteurRef": "PA1"}, {"acteurRef": "PA2"}]},
			"contres": null
		}}}
	]}}}
}}`

type fakeBallots struct {
	raw models.RawRecord
	err error
}

func (f fakeBallots) FetchBallot(context.Context, string, string) (models.RawRecord, error) {
	return f.raw, f.err
}

type fakeSyncer struct {
	result parser.SyncResult
	err    error
	calls  []string
}

func (f *fakeSyncer) Sync(_ context.Context, method, url, legislature string) (parser.SyncResult, error) {
	f.calls = append(f.calls, method+" "+url+" "+legislature)
	return f.result, f.err
}

type nopRemote struct{}

func (nopRemote) FetchDetail(context.Context, string, string) (models.RawRecord, error) {
	return nil, errors.New("unused")
}

type DeputyHandlerSuite struct {
	suite.Suite
	cache   *cache.Store
	store   *storage.MemoryStore
	ballots *fakeBallots
	syncer  *fakeSyncer
	server  *httptest.Server
}

func TestDeputyHandlerSuite(t *testing.T) {
	suite.Run(t, new(DeputyHandlerSuite))
}

func (s *DeputyHandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New()

	s.cache = cache.New(nopRemote{}, cache.WithManualDrain(), cache.WithLegislature("17"))
	s.store = storage.NewMemoryStore()
	_, err := s.store.SaveDeputies(context.Background(), "17", []models.DeputyRecord{
		{ID: "PA1", GivenName: "Marie", FamilyName: "Curie", Profession: "Physicienne", PoliticalGroupName: "Groupe A"},
	})
	s.Require().NoError(err)

	var raw models.RawRecord
	s.Require().NoError(json.Unmarshal([]byte(scrutinJSON), &raw))
	s.ballots = &fakeBallots{raw: raw}
	s.syncer = &fakeSyncer{result: parser.SyncResult{RunID: "run-1", Method: "zip", Saved: 3}}

	warmer := prefetch.New(s.store, s.cache, prefetch.WithLogger(logger))
	h := NewDeputyHandler(s.cache, warmer, s.ballots, s.syncer, m, logger, SyncSource{
		DefaultURL:   "https://example.test/deputes.zip",
		AllowedHosts: []string{"mirror.example.test"},
	})
	s.server = httptest.NewServer(h.Router())
}

func (s *DeputyHandlerSuite) TearDownTest() {
	s.server.Close()
	s.cache.Close()
}

func (s *DeputyHandlerSuite) do(method, path, body string) (*http.Response, []byte) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.server.URL+path, reader)
	s.Require().NoError(err)
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	return resp, data
}

func (s *DeputyHandlerSuite) TestGetDeputyPending() {
	resp, body := s.do(http.MethodGet, "/api/deputies/PA7", "")
	s.Equal(http.StatusAccepted, resp.StatusCode)

	var entry models.CacheEntry
	s.Require().NoError(json.Unmarshal(body, &entry))
	s.Equal("PA7", entry.Record.ID)
	s.Equal(models.StateQueued, entry.State)
	s.Equal(models.ProfessionNotProvided, entry.Record.Profession)
}

func (s *DeputyHandlerSuite) TestGetDeputyResolved() {
	s.cache.MergeResolved([]models.DeputyRecord{{ID: "PA1", GivenName: "Marie", FamilyName: "Curie"}})

	resp, body := s.do(http.MethodGet, "/api/deputies/1", "")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Contains(string(body), `"given_name":"Marie"`)
}

func (s *DeputyHandlerSuite) TestGetDeputyInvalidID() {
	resp, _ := s.do(http.MethodGet, "/api/deputies/PO123x", "")
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *DeputyHandlerSuite) TestPrefetch() {
	body := `{"legislature": "17", "groups": {"G1": {"pours": {"votant": [{"acteurRef": "PA1"}, {"acteurRef": "PA2"}]}}}}`
	resp, data := s.do(http.MethodPost, "/api/deputies/prefetch", body)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var result prefetch.WarmResult
	s.Require().NoError(json.Unmarshal(data, &result))
	s.Equal(prefetch.WarmResult{Requested: 2, Found: 1, Missing: 1}, result)
	s.Equal(1, s.cache.Stats().Priority)
}

func (s *DeputyHandlerSuite) TestPrefetchBadRequest() {
	resp, _ := s.do(http.MethodPost, "/api/deputies/prefetch", "{")
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/api/deputies/prefetch", `{"groups": {}}`)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *DeputyHandlerSuite) TestGetScrutin() {
	resp, data := s.do(http.MethodGet, "/api/scrutins/4242", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var out scrutinResponse
	s.Require().NoError(json.Unmarshal(data, &out))
	s.Equal(prefetch.WarmResult{Requested: 2, Found: 1, Missing: 1}, out.Prefetch)
	s.Equal("Loi de finances", out.Result.Title)
	s.Equal(1, out.Result.Pending)
	s.Require().Len(out.Result.Groups, 1)
	s.Equal("Groupe A", out.Result.Groups[0].GroupName)
	s.Len(out.Result.Groups[0].Positions[0].Deputies, 2)
}

func (s *DeputyHandlerSuite) TestGetScrutinNotFound() {
	s.ballots.err = remote.NewLookupError("status", "9", http.StatusNotFound, remote.ErrNotFound)
	resp, _ := s.do(http.MethodGet, "/api/scrutins/9", "")
	s.Equal(http.StatusNotFound, resp.StatusCode)

	s.ballots.err = errors.New("connection reset")
	resp, _ = s.do(http.MethodGet, "/api/scrutins/9", "")
	s.Equal(http.StatusBadGateway, resp.StatusCode)
}

func (s *DeputyHandlerSuite) TestSync() {
	resp, data := s.do(http.MethodPost, "/api/sync/zip", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	s.Contains(string(data), `"run_id":"run-1"`)
	s.Equal([]string{"zip https://example.test/deputes.zip 17"}, s.syncer.calls)
}

func (s *DeputyHandlerSuite) TestSyncURLRestrictedToKnownHosts() {
	resp, _ := s.do(http.MethodPost, "/api/sync/zip?url=https://mirror.example.test/deputes.zip", "")
	s.Equal(http.StatusOK, resp.StatusCode)

	resp, _ = s.do(http.MethodPost, "/api/sync/zip?url=https://EXAMPLE.test/other.zip", "")
	s.Equal(http.StatusOK, resp.StatusCode)

	for _, target := range []string{
		"http://169.254.169.254/latest/meta-data/",
		"http://localhost:8080/api/cache/stats",
		"file:///etc/passwd",
		"example.test/deputes.zip",
	} {
		resp, _ = s.do(http.MethodPost, "/api/sync/zip?url="+url.QueryEscape(target), "")
		s.Equal(http.StatusForbidden, resp.StatusCode, target)
	}

	s.Equal([]string{
		"zip https://mirror.example.test/deputes.zip 17",
		"zip https://EXAMPLE.test/other.zip 17",
	}, s.syncer.calls)
}

func (s *DeputyHandlerSuite) TestSyncErrors() {
	s.syncer.err = fmt.Errorf("%w for method: html", parser.ErrNoParser)
	resp, _ := s.do(http.MethodPost, "/api/sync/html", "")
	s.Equal(http.StatusNotFound, resp.StatusCode)

	s.syncer.err = parser.NewParseError("download", errors.New("unexpected status code: 503"))
	resp, _ = s.do(http.MethodPost, "/api/sync/zip", "")
	s.Equal(http.StatusBadGateway, resp.StatusCode)

	s.syncer.err = parser.NewParseError("process", errors.New("bad zip"))
	resp, _ = s.do(http.MethodPost, "/api/sync/zip?legislature=16", "")
	s.Equal(http.StatusInternalServerError, resp.StatusCode)
}

func (s *DeputyHandlerSuite) TestCacheStatsAndHealth() {
	s.cache.Get("PA5")

	resp, data := s.do(http.MethodGet, "/api/cache/stats", "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var stats cache.Stats
	s.Require().NoError(json.Unmarshal(data, &stats))
	s.Equal(1, stats.Regular)

	resp, data = s.do(http.MethodGet, "/health", "")
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("OK", string(data))

	resp, _ = s.do(http.MethodGet, "/metrics", "")
	s.Equal(http.StatusOK, resp.StatusCode)
}

func TestRouterWithoutMetrics(t *testing.T) {
	c := cache.New(nopRemote{}, cache.WithManualDrain())
	defer c.Close()
	h := NewDeputyHandler(c, prefetch.New(nil, c), fakeBallots{}, &fakeSyncer{}, nil, nil, SyncSource{})

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync/zip", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
