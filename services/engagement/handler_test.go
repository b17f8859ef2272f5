package engagement

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"testerhub-engagement/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newRouter(f *fixture) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Error())
	registerRoutes(r, NewHandler(f.svc, f.points))
	return r
}

func do(r http.Handler, method, path, tester, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if tester != "" {
		req.Header.Set(testerHeader, tester)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorReason(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Reason string `json:"reason"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error.Reason
}

func TestCheckInRoutes(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	base := "/v1/campaigns/" + f.campaign.ID

	w := do(r, http.MethodPost, base+"/check-ins", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, base+"/check-ins", "tester-a", "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Equal(t, "not_enrolled", errorReason(t, w))

	w = do(r, http.MethodPost, base+"/join", "tester-a", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, base+"/check-ins", "tester-a", "")
	require.Equal(t, http.StatusCreated, w.Code)
	var ci struct {
		DayIndex int   `json:"day_index"`
		Points   int64 `json:"points"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ci))
	require.Equal(t, 1, ci.DayIndex)
	require.Equal(t, int64(20), ci.Points)

	w = do(r, http.MethodPost, base+"/check-ins", "tester-a", "")
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "already_recorded_today", errorReason(t, w))

	w = do(r, http.MethodGet, base+"/status", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		ProgressPercent int `json:"progress_percent"`
		Testers         []struct {
			TesterID   string `json:"tester_id"`
			CurrentDay int    `json:"current_day"`
			Completed  bool   `json:"completed"`
		} `json:"testers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, 7, status.ProgressPercent)
	require.Len(t, status.Testers, 1)
	require.Equal(t, 1, status.Testers[0].CurrentDay)
	require.True(t, status.Testers[0].Completed)

	w = do(r, http.MethodGet, base+"/enrollments/tester-a", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, base+"/enrollments/nobody", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/v1/campaigns/missing/status", "", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPointRoutes(t *testing.T) {
	f := newFixture(t)
	r := newRouter(f)
	f.join(t, "tester-a")

	_, err := f.svc.RecordCheckIn(t.Context(), f.campaign.ID, "tester-a")
	require.NoError(t, err)

	w := do(r, http.MethodGet, "/v1/testers/tester-a/points", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"balance":20`)

	w = do(r, http.MethodPost, "/v1/testers/tester-a/points/spend", "", `{"amount":15,"reason":"gift card"}`)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/v1/testers/tester-a/points/spend", "tester-b", `{"amount":15,"reason":"gift card"}`)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "tester_mismatch", errorReason(t, w))

	w = do(r, http.MethodGet, "/v1/testers/tester-a/points", "", "")
	require.Contains(t, w.Body.String(), `"balance":20`)

	w = do(r, http.MethodPost, "/v1/testers/tester-a/points/spend", "tester-a", `{"amount":50,"reason":"gift card"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Equal(t, "insufficient_points", errorReason(t, w))

	w = do(r, http.MethodPost, "/v1/testers/tester-a/points/spend", "tester-a", `{"amount":0}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPost, "/v1/testers/tester-a/points/spend", "tester-a", `{"amount":15,"reason":"gift card"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(r, http.MethodGet, "/v1/testers/tester-a/points/history?limit=1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Data     []json.RawMessage `json:"data"`
		PageInfo struct {
			HasMore bool `json:"has_more"`
		} `json:"page_info"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Len(t, page.Data, 1)
	require.True(t, page.PageInfo.HasMore)

	w = do(r, http.MethodGet, "/v1/testers/tester-a/points/history?limit=x", "", "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/v1/testers/tester-a/points/verify", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/v1/testers/tester-a/campaigns", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Budget Planner")

	w = do(r, http.MethodGet, "/v1/testers/tester-a/pending", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"data":[]}`, w.Body.String())
}
