package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"arc-database/internal/database/adapter/persistence/memory"
	"arc-database/internal/database/usecase"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	app    *fiber.App
	db     *usecase.DatabaseUsecase
	relay  *RelayHandler
	driver *memory.Driver
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	driver := memory.New(nil)
	require.NoError(t, driver.Open(context.Background()))

	db := usecase.NewDatabaseUsecase(driver, nil, nil)
	facade := usecase.NewCommandFacade(db, nil)
	relay := NewRelayHandler(facade, db, 16, nil)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	relay.RegisterRoutes(app, "/ws")
	NewCommandHandler(facade, nil).RegisterRoutes(app.Group("/api/v1"))

	t.Cleanup(func() {
		relay.Close()
		db.Shutdown()
		_ = driver.Close(context.Background())
	})
	return &testServer{app: app, db: db, relay: relay, driver: driver}
}

func (s *testServer) post(t *testing.T, command, body string) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/commands/"+command, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func TestCommandHandler_DocumentRoundTrip(t *testing.T) {
	s := newTestServer(t)

	status, out := s.post(t, usecase.CommandCreateDocument, `{"ref":"app/people","data":{"id":"p","a":1,"b":2}}`)
	require.Equal(t, fiber.StatusOK, status, out)
	assert.Equal(t, false, out["error"])
	assert.Equal(t, "app/people", out["ref"])
	assert.Equal(t, map[string]interface{}{"id": "p", "a": float64(1), "b": float64(2)}, out["data"])

	status, out = s.post(t, usecase.CommandUpdateDocument, `{"ref":"app/people/p","data":{"b":3},"options":{"replace":true}}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, map[string]interface{}{"id": "p", "b": float64(3)}, out["data"])

	status, out = s.post(t, usecase.CommandReadCollection, `{"ref":"app/people","data":{"where":[["b","==",3]]}}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, out["data"], 1)

	status, out = s.post(t, usecase.CommandListCollections, `{"ref":"app"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []interface{}{"people"}, out["data"])

	status, out = s.post(t, usecase.CommandDeleteDocument, `{"ref":"app/people/p"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, map[string]interface{}{"deleted": true}, out["data"])

	status, out = s.post(t, usecase.CommandReadDocument, `{"ref":"app/people/p"}`)
	require.Equal(t, fiber.StatusOK, status)
	assert.Nil(t, out["data"])
}

func TestCommandHandler_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name    string
		command string
		body    string
		status  int
		code    string
	}{
		{"malformed reference", usecase.CommandReadDocument, `{"ref":"app/people/p/x"}`, fiber.StatusBadRequest, "MALFORMED_REFERENCE"},
		{"unknown command", "database.explode", `{"ref":"app"}`, fiber.StatusNotFound, "UNKNOWN_COMMAND"},
		{"subscribe needs push", usecase.CommandSubscribeDocument, `{"ref":"app/people/p"}`, fiber.StatusBadRequest, "UNSUPPORTED_TRANSPORT"},
		{"malformed body", usecase.CommandReadDocument, `{"ref":`, fiber.StatusBadRequest, "INVALID_ARGUMENT"},
		{"invalid query", usecase.CommandReadCollection, `{"ref":"app/people","options":{"query":{"limit":-1}}}`, fiber.StatusBadRequest, "INVALID_QUERY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := s.post(t, tt.command, tt.body)
			assert.Equal(t, tt.status, status)
			require.IsType(t, map[string]interface{}{}, out["error"], out)
			assert.Equal(t, tt.code, out["error"].(map[string]interface{})["code"])
		})
	}

	status, _ := s.post(t, usecase.CommandCreateDocument, `{"ref":"app/people","data":{"id":"dup"}}`)
	require.Equal(t, fiber.StatusOK, status)
	status, out := s.post(t, usecase.CommandCreateDocument, `{"ref":"app/people","data":{"id":"dup"}}`)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "DUPLICATE_ID", out["error"].(map[string]interface{})["code"])
}

func TestCommandHandler_RequestID(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("POST", "/api/v1/commands/"+usecase.CommandListCollections, strings.NewReader(`{"ref":"app"}`))
	req.Header.Set(RequestIDHeader, "req-42")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "req-42", resp.Header.Get(RequestIDHeader))

	resp, err = s.app.Test(httptest.NewRequest("POST", "/api/v1/commands/"+usecase.CommandListCollections, strings.NewReader(`{"ref":"app"}`)))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestCommandHandler_ListCommands(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.app.Test(httptest.NewRequest("GET", "/api/v1/commands", nil))
	require.NoError(t, err)
	var out struct {
		Commands []string `json:"commands"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out.Commands, usecase.CommandSubscribeCollection)
	assert.Len(t, out.Commands, 9)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, fiber.StatusOK, statusFor(usecase.Response{}))
	assert.Equal(t, fiber.StatusServiceUnavailable, statusFor(usecase.Response{Error: &usecase.ErrorDescriptor{Code: "BACKEND_UNAVAILABLE"}}))
	assert.Equal(t, fiber.StatusInternalServerError, statusFor(usecase.Response{Error: &usecase.ErrorDescriptor{Code: "BACKING_STORE_MISSING"}}))
}
