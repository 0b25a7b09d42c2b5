package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"workorders/internal/db"
	"workorders/internal/engine"
	"workorders/internal/engine/auth"
	"workorders/internal/files"
	"workorders/internal/migrate"
	"workorders/internal/sequence"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	engine engine.Engine
}

func newTestServer(t *testing.T, rules map[string][]string) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "wo.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	log := zaptest.NewLogger(t)
	e := engine.New(conn, sequence.SQLite{DB: conn}, log)
	store := files.Local{Dir: t.TempDir()}
	e.Files = store

	_, err = e.CreateOrg(ctx, "acme", "Acme", "root")
	require.NoError(t, err)
	_, err = e.CreateOrg(ctx, "other", "Other", "root")
	require.NoError(t, err)
	for _, u := range []engine.UserInput{
		{ID: "tech", Name: "Ana", Role: "technician"},
		{ID: "tech2", Name: "Luis", Role: "technician"},
		{ID: "boss", Name: "Marta", Role: "supervisor"},
	} {
		_, err := e.UpsertUser(ctx, "acme", u, "root")
		require.NoError(t, err)
	}

	handler, err := New(Config{
		Engine:   e,
		Policy:   auth.Service{DB: conn, Rules: rules},
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowDevHeaders: true},
		Files:    store.Handler(),
		Log:      log,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, engine: e}
}

func as(user, org string) map[string]string {
	return map[string]string{"X-Actor-Id": user, "X-Org-Id": org}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return out
}

func TestHealthIsOpenAndAPIRequiresAuth(t *testing.T) {
	srv := newTestServer(t, nil)

	res, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, body := doJSON(t, http.MethodGet, srv.URL+"/v1/work-orders", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "unauthorized", decode[apiErrorBody](t, body).Code)

	res, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/work-orders", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestWorkOrderLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.URL + "/v1/work-orders"

	res, body := doJSON(t, http.MethodPost, base, map[string]any{
		"client": map[string]any{"name": "Hotel Sol"},
	}, as("boss", "acme"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	created := decode[WorkOrderResponse](t, body)
	require.EqualValues(t, 1, created.OrgSeq)
	require.Equal(t, "Created", string(created.State))

	res, body = doJSON(t, http.MethodPut, base+"/"+created.ID+"/assign", map[string]any{"assignee_id": "tech"}, as("boss", "acme"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	require.Equal(t, "Assigned", string(decode[WorkOrderResponse](t, body).State))

	res, body = doJSON(t, http.MethodPut, base+"/"+created.ID+"/start", nil, as("tech2", "acme"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(body))

	res, body = doJSON(t, http.MethodPut, base+"/"+created.ID+"/start", nil, as("tech", "acme"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	res, body = doJSON(t, http.MethodPost, base+"/"+created.ID+"/costs", map[string]any{"description": "cable", "amount": "12.50"}, as("tech", "acme"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	require.Equal(t, map[string]string{"USD": "12.50"}, decode[WorkOrderResponse](t, body).CostTotal)

	res, body = doJSON(t, http.MethodPut, base+"/"+created.ID+"/submit-review", map[string]any{"note": "listo"}, as("tech", "acme"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	res, body = doJSON(t, http.MethodPut, base+"/"+created.ID+"/approve", nil, as("boss", "acme"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	done := decode[WorkOrderResponse](t, body)
	require.Equal(t, "Done", string(done.State))
	require.NotEmpty(t, done.Dates["approvedAt"])
	require.Len(t, done.History, 5)

	res, body = doJSON(t, http.MethodPut, base+"/"+created.ID+"/reject", map[string]any{"reason": "tarde"}, as("boss", "acme"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(body))
	require.Equal(t, "invalid_transition", decode[apiErrorBody](t, body).Code)

	res, body = doJSON(t, http.MethodPost, base+"/"+created.ID+"/costs", map[string]any{"description": "late", "amount": "1"}, as("tech", "acme"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(body))
	require.Equal(t, "closed", decode[apiErrorBody](t, body).Code)

	res, body = doJSON(t, http.MethodGet, srv.URL+"/v1/work-orders/"+created.ID+"/events", nil, as("boss", "acme"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	require.NotEmpty(t, decode[[]EventResponse](t, body))
}

func TestCreateErrorsMapToStatus(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.URL + "/v1/work-orders"

	res, body := doJSON(t, http.MethodPost, base, map[string]any{"assignee_id": "tech", "assignee_role": "technician"}, as("boss", "acme"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, "conflicting_assignment", decode[apiErrorBody](t, body).Code)

	res, body = doJSON(t, http.MethodPost, base, map[string]any{"branch_id": "nowhere"}, as("boss", "acme"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, "invalid_reference", decode[apiErrorBody](t, body).Code)

	res, body = doJSON(t, http.MethodPost, base, map[string]any{}, as("boss", "bad tenant!"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
	require.Equal(t, "invalid_tenant", decode[apiErrorBody](t, body).Code)
}

func TestTenantIsolation(t *testing.T) {
	srv := newTestServer(t, nil)
	res, body := doJSON(t, http.MethodPost, srv.URL+"/v1/work-orders", map[string]any{}, as("boss", "acme"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	w := decode[WorkOrderResponse](t, body)

	res, body = doJSON(t, http.MethodGet, srv.URL+"/v1/work-orders/"+w.ID, nil, as("boss", "other"))
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	require.Equal(t, "not_found", decode[apiErrorBody](t, body).Code)

	res, body = doJSON(t, http.MethodGet, srv.URL+"/v1/work-orders", nil, as("boss", "other"))
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Empty(t, decode[WorkOrderPage](t, body).Items)
}

func TestListAndSoftDelete(t *testing.T) {
	srv := newTestServer(t, nil)
	base := srv.URL + "/v1/work-orders"
	var ids []string
	for i := 0; i < 3; i++ {
		res, body := doJSON(t, http.MethodPost, base, map[string]any{}, as("boss", "acme"))
		require.Equal(t, http.StatusCreated, res.StatusCode)
		ids = append(ids, decode[WorkOrderResponse](t, body).ID)
	}
	res, _ := doJSON(t, http.MethodDelete, base+"/"+ids[0], nil, as("boss", "acme"))
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res, body := doJSON(t, http.MethodGet, base+"?limit=10", nil, as("boss", "acme"))
	require.Equal(t, http.StatusOK, res.StatusCode)
	page := decode[WorkOrderPage](t, body)
	require.Equal(t, 2, page.Total)
	require.EqualValues(t, 3, page.Items[0].OrgSeq)

	res, body = doJSON(t, http.MethodGet, base+"?include_deleted=true", nil, as("boss", "acme"))
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, 3, decode[WorkOrderPage](t, body).Total)

	res, _ = doJSON(t, http.MethodPut, base+"/"+ids[0]+"/assign", map[string]any{"assignee_id": "tech"}, as("boss", "acme"))
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = doJSON(t, http.MethodGet, base+"?state=Paused", nil, as("boss", "acme"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestRoleRules(t *testing.T) {
	srv := newTestServer(t, map[string][]string{auth.ActionApprove: {"supervisor"}})
	base := srv.URL + "/v1/work-orders"
	res, body := doJSON(t, http.MethodPost, base, map[string]any{"assignee_id": "tech"}, as("boss", "acme"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	id := decode[WorkOrderResponse](t, body).ID
	for _, step := range []string{"start", "submit-review"} {
		res, body = doJSON(t, http.MethodPut, base+"/"+id+"/"+step, nil, as("tech", "acme"))
		require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	}

	res, body = doJSON(t, http.MethodPut, base+"/"+id+"/approve", nil, as("tech", "acme"))
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	require.Equal(t, "forbidden", decode[apiErrorBody](t, body).Code)

	res, _ = doJSON(t, http.MethodPut, base+"/"+id+"/approve", nil, as("boss", "acme"))
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func upload(t *testing.T, url string, field, name string, content []byte, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file"))
	}
	require.NoError(t, mw.Close())
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func TestUploadAttachment(t *testing.T) {
	srv := newTestServer(t, nil)
	res, body := doJSON(t, http.MethodPost, srv.URL+"/v1/work-orders", map[string]any{"assignee_id": "tech"}, as("boss", "acme"))
	require.Equal(t, http.StatusCreated, res.StatusCode)
	id := decode[WorkOrderResponse](t, body).ID
	url := srv.URL + "/v1/work-orders/" + id + "/attachments"

	res, body = upload(t, url, "", "", nil, as("tech", "acme"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
	require.Equal(t, "no_file", decode[apiErrorBody](t, body).Code)

	res, body = upload(t, srv.URL+"/v1/work-orders/missing/attachments", "file", "a.txt", []byte("hola"), as("tech", "acme"))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(body))

	res, body = upload(t, url, "file", "report.txt", []byte("trabajo terminado"), as("tech", "acme"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	out := decode[AttachmentResponse](t, body)
	require.Equal(t, "report.txt", out.File.FileName)
	require.Len(t, out.WorkOrder.Attachments, 1)

	res, body = doJSON(t, http.MethodGet, srv.URL+out.File.URL, nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "trabajo terminado", string(body))
}

func TestNotificationsAndPushTokens(t *testing.T) {
	srv := newTestServer(t, nil)
	res, body := doJSON(t, http.MethodPost, srv.URL+"/v1/push-tokens", map[string]any{"token": "tok-1", "platform": "android"}, as("tech", "acme"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	res, _ = doJSON(t, http.MethodPost, srv.URL+"/v1/push-tokens", map[string]any{"token": "tok-2", "platform": "pager"}, as("tech", "acme"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, _ = doJSON(t, http.MethodDelete, srv.URL+"/v1/push-tokens/tok-1", nil, as("tech", "acme"))
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	res, body = doJSON(t, http.MethodGet, srv.URL+"/v1/notifications?unread=true", nil, as("tech", "acme"))
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "[]", string(bytes.TrimSpace(body)))

	res, _ = doJSON(t, http.MethodPut, srv.URL+"/v1/notifications/nope/read", nil, as("tech", "acme"))
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestDevLoginTokenAuthenticates(t *testing.T) {
	srv := newTestServer(t, nil)
	res, body := doJSON(t, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"user_id": "boss", "org_id": "acme"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	token := decode[DevLoginResponse](t, body).Token
	require.NotEmpty(t, token)

	res, body = doJSON(t, http.MethodPost, srv.URL+"/v1/work-orders", map[string]any{}, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	require.Equal(t, "boss", decode[WorkOrderResponse](t, body).CreatedBy)

	res, body = doJSON(t, http.MethodPost, srv.URL+"/v1/auth/dev/login", map[string]any{"user_id": "boss"}, nil)
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
}

func TestAuthenticateJWTRequiresOrg(t *testing.T) {
	token, err := signToken(testSecret, "boss", "", nil, devTokenTTL)
	require.NoError(t, err)
	_, err = authenticateJWT(token, testSecret)
	require.Error(t, err)

	token, err = signToken(testSecret, "boss", "acme", []string{"supervisor"}, devTokenTTL)
	require.NoError(t, err)
	p, err := authenticateJWT(token, testSecret)
	require.NoError(t, err)
	require.Equal(t, Principal{UserID: "boss", OrgID: "acme", Roles: []string{"supervisor"}, Source: "jwt"}, p)

	_, err = authenticateJWT(token, "other-secret")
	require.Error(t, err)
}

func TestOpenAPIDocumentsSnakeCaseFields(t *testing.T) {
	srv := newTestServer(t, nil)
	res, body := doJSON(t, http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)

	doc := decode[struct {
		Info struct {
			Description string `json:"description"`
		} `json:"info"`
		Components struct {
			Schemas map[string]struct {
				Properties map[string]json.RawMessage `json:"properties"`
			} `json:"schemas"`
		} `json:"components"`
	}](t, body)
	require.Contains(t, doc.Info.Description, "snake_case")

	create := doc.Components.Schemas["CreateWorkOrderRequest"].Properties
	require.Contains(t, create, "assignee_id")
	require.Contains(t, create, "branch_id")
	require.NotContains(t, create, "assigneeId")
	attachment := doc.Components.Schemas["AttachmentResponse"].Properties
	require.Contains(t, attachment, "work_order")
	require.Contains(t, attachment, "file")
}
