package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dsstrack/internal/analysis"
	"dsstrack/internal/config"
	"dsstrack/internal/dedupe"
	"dsstrack/internal/providers"
	"dsstrack/internal/session"
	"dsstrack/internal/util"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

const customersCSV = "name,city\nAcme Corp,Berlin\nGlobex,Springfield\nAcme Corp,Berlin\nInitech,Austin\n"

type testServer struct {
	*httptest.Server
	cfg   config.Config
	local *analysis.Local
}

func newTestServer(t *testing.T, warm bool) *testServer {
	t.Helper()
	cfg := config.Config{
		DataOutRoot:      t.TempDir(),
		DefaultThreshold: 0.99,
		MaxUploadBytes:   1 << 20,
		PreviewRows:      2,
		CORSOrigin:       "*",
	}
	pm := providers.NewStaticManager(64, providers.NamedEmbedProvider{
		Ref:      providers.ProviderRef{Raw: "mock", Name: "mock"},
		Provider: providers.NewMockProvider(64),
	})
	local := analysis.NewLocal(analysis.NewEmbedder(pm, analysis.EmbedderOptions{}), dedupe.NewGrouper(nil), 2)
	if warm {
		require.NoError(t, local.Warmup(context.Background(), 1, 0))
	}
	store := session.NewStore(local, session.Options{})
	srv := httptest.NewServer(NewServer(cfg, store, local, nil).Routes())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, cfg: cfg, local: local}
}

func (ts *testServer) upload(t *testing.T, filename, content string) (*http.Response, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func (ts *testServer) postJSON(t *testing.T, path string, v any) (*http.Response, map[string]any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func (ts *testServer) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	return resp, decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	out := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, false)
	resp, body := ts.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, false, body["embedder_ready"])
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t, true)
	resp, body := ts.upload(t, "customers.csv", customersCSV)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["session_id"])
	require.Equal(t, "customers.csv", body["filename"])
	require.Equal(t, float64(4), body["row_count"])
	require.Equal(t, []any{"name", "city"}, body["columns"])
	require.Len(t, body["preview"], 2)
	require.Equal(t, util.SHA256Hex([]byte(customersCSV)), body["sha256"])
}

func TestUploadRejectsBadFiles(t *testing.T) {
	ts := newTestServer(t, true)

	resp, body := ts.upload(t, "legacy.xls", "whatever")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "DSS-API-4001", errorCode(body))

	resp, body = ts.upload(t, "empty.csv", "name,city\n")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body["error"].(map[string]any)["message"], "no data rows")

	resp, err := http.Post(ts.URL+"/upload", "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAnalyzeBeforeWarmupIsUnavailable(t *testing.T) {
	ts := newTestServer(t, false)
	_, up := ts.upload(t, "customers.csv", customersCSV)

	resp, body := ts.postJSON(t, "/analyze", map[string]any{"session_id": up["session_id"], "columns": []string{"name"}})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "DSS-API-5030", errorCode(body))
}

func TestAnalyzeErrors(t *testing.T) {
	ts := newTestServer(t, true)
	_, up := ts.upload(t, "customers.csv", customersCSV)

	resp, body := ts.postJSON(t, "/analyze", map[string]any{"session_id": "nope", "columns": []string{"name"}})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "DSS-API-4004", errorCode(body))

	resp, body = ts.postJSON(t, "/analyze", map[string]any{"session_id": up["session_id"], "columns": []string{"phone"}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body["error"].(map[string]any)["message"], "phone")
}

func TestReviewExportLifecycle(t *testing.T) {
	ts := newTestServer(t, true)
	_, up := ts.upload(t, "customers.csv", customersCSV)
	sessionID := up["session_id"].(string)

	resp, an := ts.postJSON(t, "/analyze", map[string]any{"session_id": sessionID, "columns": []string{"name", "city"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1), an["duplicate_groups"])
	require.Equal(t, float64(2), an["total_potential_duplicates"])
	group := an["groups"].([]any)[0].(map[string]any)
	require.Equal(t, []any{float64(0), float64(2)}, group["member_indices"])
	groupID := group["duplicate_id"].(string)

	resp, body := ts.postJSON(t, "/review", map[string]any{"session_id": sessionID, "duplicate_id": "stale", "is_duplicate": true})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "DSS-API-4004", errorCode(body))

	resp, body = ts.postJSON(t, "/review", map[string]any{"session_id": sessionID, "duplicate_id": groupID, "is_duplicate": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1), body["total_reviewed"])
	require.Equal(t, float64(1), body["total_groups"])

	resp, body = ts.get(t, "/session/"+sessionID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1), body["reviewed"])
	require.Equal(t, float64(0), body["pending_review"])
	require.Equal(t, float64(1), body["rows_removed"])

	resp, body = ts.get(t, "/session/"+sessionID+"/groups")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "confirmed_duplicate", body["groups"].([]any)[0].(map[string]any)["verdict"])

	resp, err := http.Get(ts.URL + "/export/" + sessionID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Disposition"), "customers_duplicate_report.xlsx")
	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("De-duplicated Data")
	require.NoError(t, err)
	require.Len(t, rows, 4)

	_, err = os.Stat(filepath.Join(ts.cfg.DataOutRoot, sessionID, "report.xlsx"))
	require.NoError(t, err)

	resp, body = ts.get(t, "/export/"+sessionID+"?format=json")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sheets := body["sheets"].([]any)
	require.Len(t, sheets, 4)
	require.Len(t, sheets[2].(map[string]any)["rows"], 2)
}

func TestSessionDelete(t *testing.T) {
	ts := newTestServer(t, true)
	_, up := ts.upload(t, "customers.csv", customersCSV)
	sessionID := up["session_id"].(string)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/session/"+sessionID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, body := ts.get(t, "/session/"+sessionID)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "DSS-API-4004", errorCode(body))

	resp, _ = ts.get(t, "/export/"+sessionID)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, true)
	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/analyze", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestToAPIErrorTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: session x not found", util.ErrNotFound), http.StatusNotFound, "DSS-API-4004"},
		{fmt.Errorf("%w: columns not found: a", util.ErrValidation), http.StatusBadRequest, "DSS-API-4001"},
		{fmt.Errorf("%w: warming", util.ErrUnavailable), http.StatusServiceUnavailable, "DSS-API-5030"},
		{fmt.Errorf("%w: row 1 in two groups", util.ErrInvariant), http.StatusInternalServerError, "DSS-CORE-5001"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "DSS-API-5000"},
	}
	for _, c := range cases {
		status := statusFor(c.err)
		require.Equal(t, c.status, status, c.err.Error())
		require.Equal(t, c.code, toAPIError(status, c.err).Code, c.err.Error())
	}
	require.Equal(t, "session x not found", toAPIError(http.StatusNotFound, cases[0].err).Message)
}
