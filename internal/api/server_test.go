// Sailtrack - Multi-Event GPS Tracking for Watersports Races
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sailtrack

package api

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/sailtrack/internal/event"
	"github.com/tomtom215/sailtrack/internal/ingest"
	"github.com/tomtom215/sailtrack/internal/metrics"
	"github.com/tomtom215/sailtrack/internal/track"
)

type testEnv struct {
	server   *Server
	router   http.Handler
	registry *event.Registry
	store    *track.Store
	eid      int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	reg, err := event.Load(event.Options{
		Path:            filepath.Join(dir, "events.json"),
		ManagerPassword: "fleet-secret",
		AdminPassword:   "global-admin",
	})
	require.NoError(t, err)
	eid, err := reg.Create(event.Event{
		Name:            "API Cup",
		TrackerPassword: "upload-pw",
		AdminPassword:   "race-admin",
		AssistEnabled:   true,
	})
	require.NoError(t, err)

	store := track.NewStore(reg, track.StoreOptions{StaticDir: filepath.Join(dir, "html")})
	d := ingest.NewDispatcher(reg, store, nil, 2)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Serve(ctx) //nolint:errcheck
	t.Cleanup(cancel)

	srv := New(reg, store, d, nil, metrics.New(), "", 0)
	return &testEnv{
		server:   srv,
		router:   srv.Router(),
		registry: reg,
		store:    store,
		eid:      eid,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var doc map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc), "body: %s", rec.Body.String())
	return doc
}

func (e *testEnv) trackerPacket(id string, sq int, ts float64) string {
	return fmt.Sprintf(`{"id":%q,"sq":%d,"ts":%v,"lat":54.3,"lon":10.1,"eid":%d,"pwd":"upload-pw"}`, id, sq, ts, e.eid)
}

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, "GET", "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, "GET", "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sailtrack_")
}

func TestTrackerPost(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "POST", "/api/tracker", e.trackerPacket("boat-1", 1, 1000), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decode(t, rec)
	assert.EqualValues(t, 1, doc["ack"])
	assert.Equal(t, "API Cup", doc["event"])
	assert.NotContains(t, doc, "error")

	tr, err := e.store.Tracker(e.eid)
	require.NoError(t, err)
	assert.Contains(t, tr.Positions(), "boat-1")
}

func TestTrackerPositionAlias(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, "POST", "/api/position", e.trackerPacket("boat-2", 1, 1000), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["ack"])
}

func TestTrackerPostStatuses(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		name    string
		body    string
		status  int
		wireErr string
	}{
		{"malformed json", `{{{`, http.StatusBadRequest, "malformed"},
		{"missing fields", `{"id":"x"}`, http.StatusBadRequest, "malformed"},
		{
			"wrong password acks with error",
			fmt.Sprintf(`{"id":"b","sq":2,"ts":1,"lat":1,"lon":1,"eid":%d,"pwd":"nope"}`, e.eid),
			http.StatusOK, "auth",
		},
		{
			"unknown event",
			`{"id":"b","sq":2,"ts":1,"lat":1,"lon":1,"eid":404}`,
			http.StatusOK, "unknown_event",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, "POST", "/api/tracker", tt.body, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.wireErr, decode(t, rec)["error"])
		})
	}
}

func TestPublicEvents(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, "GET", "/api/events", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "API Cup")
	assert.NotContains(t, body, "upload-pw")
	assert.NotContains(t, body, "race-admin")
}

func TestCourseRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	path := fmt.Sprintf("/api/course?eid=%d", e.eid)
	adminHdr := map[string]string{AdminPasswordHeader: "race-admin"}

	rec := e.do(t, "GET", path, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, "POST", fmt.Sprintf("/api/admin/course?eid=%d", e.eid),
		`{"marks":[{"name":"start","lat":54.3,"lon":10.1}]}`, adminHdr)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, "GET", path, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	doc := decode(t, rec)
	assert.Contains(t, doc, "marks")
	assert.Contains(t, doc, "updated")

	rec = e.do(t, "DELETE", fmt.Sprintf("/api/admin/course?eid=%d", e.eid), "", adminHdr)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, "GET", path, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	e := newTestEnv(t)
	path := fmt.Sprintf("/api/auth/check?eid=%d", e.eid)

	rec := e.do(t, "GET", path, "", map[string]string{AdminPasswordHeader: "race-admin"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, "GET", path, "", map[string]string{AdminPasswordHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, "GET", path, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, "GET", "/api/auth/check", "", map[string]string{AdminPasswordHeader: "race-admin"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "eid required in multi-event mode")
}

func TestClearTracksEndToEnd(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "POST", "/api/tracker", e.trackerPacket("boat-1", 1, 1000), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, "POST", fmt.Sprintf("/api/admin/clear-tracks?eid=%d", e.eid), "",
		map[string]string{AdminPasswordHeader: "race-admin"})
	require.Equal(t, http.StatusOK, rec.Code)

	tr, err := e.store.Tracker(e.eid)
	require.NoError(t, err)
	assert.Empty(t, tr.Positions())
}

func TestUserOverrideFlow(t *testing.T) {
	e := newTestEnv(t)
	adminHdr := map[string]string{AdminPasswordHeader: "race-admin"}

	rec := e.do(t, "POST", fmt.Sprintf("/api/admin/user/boat-1?eid=%d", e.eid),
		`{"name":"Ellen","role":"committee"}`, adminHdr)
	require.Equal(t, http.StatusOK, rec.Code)

	// the override applies to the next packet
	rec = e.do(t, "POST", "/api/tracker", e.trackerPacket("boat-1", 1, 1000), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tr, err := e.store.Tracker(e.eid)
	require.NoError(t, err)
	assert.Equal(t, "Ellen", tr.Positions()["boat-1"].Name)

	rec = e.do(t, "GET", fmt.Sprintf("/api/users?eid=%d", e.eid), "", adminHdr)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ellen")

	rec = e.do(t, "DELETE", fmt.Sprintf("/api/admin/user/boat-1?eid=%d", e.eid), "", adminHdr)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestArchivedEventRejectsAdminWrites(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.registry.SetArchived(e.eid, true))

	rec := e.do(t, "POST", fmt.Sprintf("/api/admin/clear-tracks?eid=%d", e.eid), "",
		map[string]string{AdminPasswordHeader: "race-admin"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "archived_event", decode(t, rec)["error"])

	// reads still work
	rec = e.do(t, "GET", fmt.Sprintf("/api/auth/check?eid=%d", e.eid), "",
		map[string]string{AdminPasswordHeader: "race-admin"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestManagerCRUD(t *testing.T) {
	e := newTestEnv(t)
	mgrHdr := map[string]string{ManagerPasswordHeader: "fleet-secret"}

	// wrong password
	rec := e.do(t, "GET", "/api/manager/events", "", map[string]string{ManagerPasswordHeader: "bad"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// create
	rec = e.do(t, "POST", "/api/manager/events",
		`{"name":"New Regatta","tracker_password":"np","timezone":"Europe/Berlin"}`, mgrHdr)
	require.Equal(t, http.StatusCreated, rec.Code)
	newEID := int(decode(t, rec)["eid"].(float64))
	assert.Greater(t, newEID, e.eid)

	// list includes credentials for the manager UI
	rec = e.do(t, "GET", "/api/manager/events", "", mgrHdr)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "New Regatta")
	assert.Contains(t, rec.Body.String(), `"np"`)

	// update
	rec = e.do(t, "PUT", fmt.Sprintf("/api/manager/events/%d", newEID),
		`{"archived":true}`, mgrHdr)
	require.Equal(t, http.StatusOK, rec.Code)
	ev, ok := e.registry.Lookup(newEID)
	require.True(t, ok)
	assert.True(t, ev.Archived)

	// delete
	rec = e.do(t, "DELETE", fmt.Sprintf("/api/manager/events/%d", newEID), "", mgrHdr)
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok = e.registry.Lookup(newEID)
	assert.False(t, ok)

	// delete unknown
	rec = e.do(t, "DELETE", "/api/manager/events/999", "", mgrHdr)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManagerCreateValidation(t *testing.T) {
	e := newTestEnv(t)
	mgrHdr := map[string]string{ManagerPasswordHeader: "fleet-secret"}

	rec := e.do(t, "POST", "/api/manager/events", `{"description":"no name"}`, mgrHdr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, "POST", "/api/manager/events", `not json`, mgrHdr)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOwnTracks(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.registry.UpdateFields(e.eid, map[string]any{"owntracks_password": "ot-pw"}))

	basic := func(user, pass string) map[string]string {
		req := httptest.NewRequest("GET", "/", nil)
		req.SetBasicAuth(user, pass)
		return map[string]string{"Authorization": req.Header.Get("Authorization")}
	}
	locBody := `{"_type":"location","lat":54.5,"lon":10.2,"tst":1700000000,"batt":77,"vel":18,"cog":90,"acc":5,"topic":"owntracks/jan/phone"}`
	path := fmt.Sprintf("/api/owntracks?eid=%d", e.eid)

	t.Run("no credentials", func(t *testing.T) {
		rec := e.do(t, "POST", path, locBody, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong password", func(t *testing.T) {
		rec := e.do(t, "POST", path, locBody, basic("jan", "bad"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("location accepted", func(t *testing.T) {
		rec := e.do(t, "POST", path, locBody, basic("jan", "ot-pw"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())

		tr, err := e.store.Tracker(e.eid)
		require.NoError(t, err)
		pos, ok := tr.Positions()["OT-jan"]
		require.True(t, ok, "id prefixed with OT-")
		assert.Equal(t, 54.5, pos.Lat)
		assert.InDelta(t, 9.72, pos.Spd, 0.01, "18 km/h is 9.72 knots")
		assert.Equal(t, "phone", pos.Name, "device name from topic recorded as override")
	})

	t.Run("non-location type discarded", func(t *testing.T) {
		rec := e.do(t, "POST", path, `{"_type":"status"}`, basic("jan", "ot-pw"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("invalid location", func(t *testing.T) {
		rec := e.do(t, "POST", path, `{"_type":"location","lat":95,"lon":0,"tst":1}`, basic("jan", "ot-pw"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("configured default event when eid absent", func(t *testing.T) {
		srv := New(e.registry, e.store, e.server.dispatcher, nil, nil, "", e.eid)
		router := srv.Router()

		req := httptest.NewRequest("POST", "/api/owntracks", bytes.NewReader([]byte(locBody)))
		req.SetBasicAuth("kim", "ot-pw")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		tr, err := e.store.Tracker(e.eid)
		require.NoError(t, err)
		assert.Contains(t, tr.Positions(), "OT-kim")
	})

	t.Run("no default and no eid", func(t *testing.T) {
		rec := e.do(t, "POST", "/api/owntracks", locBody, basic("jan", "ot-pw"))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSingleEventModeIgnoresEid(t *testing.T) {
	dir := t.TempDir()
	reg, err := event.Load(event.Options{TrackerPassword: "", AdminPassword: "adm"})
	require.NoError(t, err)
	store := track.NewStore(reg, track.StoreOptions{StaticDir: dir})
	d := ingest.NewDispatcher(reg, store, nil, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Serve(ctx) //nolint:errcheck
	t.Cleanup(cancel)

	srv := New(reg, store, d, nil, nil, "", 0)
	router := srv.Router()

	req := httptest.NewRequest("POST", "/api/tracker",
		bytes.NewReader([]byte(`{"id":"boat-1","sq":1,"ts":1000,"lat":1,"lon":1}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// manager API is absent without a registry file
	req = httptest.NewRequest("GET", "/api/manager/events", nil)
	req.Header.Set(ManagerPasswordHeader, "anything")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
