package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-dagvc/pkg/audit"
	"github.com/dd0wney/cluso-dagvc/pkg/auth"
)

func TestAudit_RecordsMutations(t *testing.T) {
	trail := audit.NewAuditLogger(64)
	ts := setupTestServer(t, WithAudit(trail))

	h1 := ts.commit(t, topology("1"))
	ts.do(t, http.MethodGet, "/snapshots/"+h1, nil)
	ts.do(t, http.MethodPost, "/rollback", RollbackRequest{Target: "9"})
	ts.do(t, http.MethodDelete, "/snapshots/"+h1, nil, "X-Request-ID", "req-7")

	events := trail.GetEvents(nil)
	require.Len(t, events, 3, "reads are not audited")

	assert.Equal(t, audit.ActionCommit, events[0].Action)
	assert.Equal(t, h1, events[0].ResourceID, "id taken from Location")
	assert.Equal(t, http.StatusCreated, events[0].HTTPStatus)
	assert.Equal(t, audit.StatusSuccess, events[0].Status)

	assert.Equal(t, audit.ActionRollback, events[1].Action)
	assert.Equal(t, audit.StatusFailure, events[1].Status)
	assert.Equal(t, http.StatusNotFound, events[1].HTTPStatus)

	assert.Equal(t, audit.ActionDelete, events[2].Action)
	assert.Equal(t, h1, events[2].ResourceID, "id taken from the route")
	assert.Equal(t, "req-7", events[2].RequestID)
	assert.Empty(t, events[2].Subject, "authentication disabled")
}

func TestAudit_Endpoint(t *testing.T) {
	jwtManager, err := auth.NewJWTManager(strings.Repeat("k", 32), time.Hour)
	require.NoError(t, err)
	trail := audit.NewAuditLogger(64)
	ts := setupTestServer(t, WithAudit(trail), WithTokenValidator(jwtManager))

	bearer := func(subject, role string) string {
		tok, err := jwtManager.GenerateToken(subject, role)
		require.NoError(t, err)
		return "Bearer " + tok
	}
	editor := bearer("ana", auth.RoleEditor)
	admin := bearer("root", auth.RoleAdmin)

	rec := ts.do(t, http.MethodPost, "/snapshots", topology("1"), "Authorization", editor)
	require.Equal(t, http.StatusCreated, rec.Code)
	ts.do(t, http.MethodPost, "/bundles", BundleRequest{}, "Authorization", editor)
	ts.do(t, http.MethodPost, "/snapshots", topology("1"), "Authorization", bearer("bo", auth.RoleViewer))

	assert.Equal(t, http.StatusForbidden, ts.do(t, http.MethodGet, "/audit", nil, "Authorization", editor).Code)

	rec = ts.do(t, http.MethodGet, "/audit?subject=ana", nil, "Authorization", admin)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[AuditResponse](t, rec)
	require.Equal(t, 2, resp.Count, "forbidden requests never reach the handler")
	assert.Equal(t, int64(2), resp.Total)
	assert.Equal(t, auth.RoleEditor, resp.Events[0].Role)

	resp = decode[AuditResponse](t, ts.do(t, http.MethodGet, "/audit?resource_type=bundle", nil, "Authorization", admin))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, audit.ActionCreateBundle, resp.Events[0].Action)

	resp = decode[AuditResponse](t, ts.do(t, http.MethodGet, "/audit?limit=1", nil, "Authorization", admin))
	assert.Equal(t, 1, resp.Count)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/audit?limit=-1", nil, "Authorization", admin).Code)
}

func TestAudit_Disabled(t *testing.T) {
	ts := setupTestServer(t)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/audit", nil).Code)

	dir := t.TempDir()
	persistent, err := audit.NewPersistentAuditLogger(audit.PersistentConfig{Dir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { persistent.Close() })

	ts = setupTestServer(t, WithAudit(persistent))
	ts.commit(t, topology("1"))
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/audit", nil).Code, "persistent log is not queryable")

	n, err := audit.VerifyChain(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
