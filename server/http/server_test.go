package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whoisai/backend/registry"
	"github.com/whoisai/backend/service"
	"github.com/whoisai/backend/storage/memory"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := zerolog.Nop()
	svc := service.NewService(service.Config{
		Store:    memory.NewStore(&logger),
		Registry: registry.New(&logger),
		Logger:   &logger,
	})
	return NewServer(Config{
		Logger:      &logger,
		GameService: svc,
		ListenAddr:  ":0",
	})
}

func doRequest(t *testing.T, srv *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func createRoom(t *testing.T, srv *Server) string {
	t.Helper()
	rec := doRequest(t, srv, http.MethodGet, "/create_room")
	require.Equal(t, http.StatusOK, rec.Code)
	roomID, ok := decodeJSON(t, rec)["room_id"].(string)
	require.True(t, ok)
	require.Len(t, roomID, 8)
	return roomID
}

func TestHome(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Who is AI? Game is running!", decodeJSON(t, rec)["message"])
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestCreateAndJoinRoom(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)

	rec := doRequest(t, srv, http.MethodGet, "/join_room/"+roomID+"?player_id=p1")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, roomID, body["room_id"])
	assert.NotEmpty(t, body["question"], "round 1 starts on creation")
	assert.Equal(t, []any{"p1"}, body["players"])

	// read-only resync without a player id
	rec = doRequest(t, srv, http.MethodGet, "/join_room/"+roomID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"p1"}, decodeJSON(t, rec)["players"])
}

func TestJoinUnknownRoom(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/join_room/deadbeef")
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "Room does not exist.", body["message"])
}

func TestStartGame(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)

	rec := doRequest(t, srv, http.MethodGet, "/start_game/"+roomID)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "Game started", body["status"])
	assert.NotEmpty(t, body["question"])

	rec = doRequest(t, srv, http.MethodGet, "/start_game/deadbeef")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitAnswer(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)
	doRequest(t, srv, http.MethodGet, "/join_room/"+roomID+"?player_id=p1")

	q := url.Values{
		"room_id":   {roomID},
		"player_id": {"p1"},
		"answer":    {"an answer"},
	}
	rec := doRequest(t, srv, http.MethodPost, "/submit_answer?"+q.Encode())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeJSON(t, rec)["status"])

	// missing parameters
	rec = doRequest(t, srv, http.MethodPost, "/submit_answer?room_id="+roomID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// unregistered player
	q.Set("player_id", "ghost")
	rec = doRequest(t, srv, http.MethodPost, "/submit_answer?"+q.Encode())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitVote(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)
	doRequest(t, srv, http.MethodGet, "/join_room/"+roomID+"?player_id=p1")
	doRequest(t, srv, http.MethodGet, "/join_room/"+roomID+"?player_id=p2")

	q := url.Values{
		"room_id":   {roomID},
		"voter_id":  {"p1"},
		"target_id": {"p2"},
	}
	rec := doRequest(t, srv, http.MethodPost, "/submit_vote?"+q.Encode())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeJSON(t, rec)["status"])

	q.Set("room_id", "deadbeef")
	rec = doRequest(t, srv, http.MethodPost, "/submit_vote?"+q.Encode())
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAIAnswers(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)
	doRequest(t, srv, http.MethodGet, "/join_room/"+roomID+"?player_id=human")
	doRequest(t, srv, http.MethodGet, "/join_room/"+roomID+"?player_id=bot&is_ai=true")

	rec := doRequest(t, srv, http.MethodPost, "/ai_answers/"+roomID)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "ok", body["status"])
	answers, ok := body["answers"].([]any)
	require.True(t, ok)
	require.Len(t, answers, 1)
	first, ok := answers[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "bot", first["player"])
	assert.NotEmpty(t, first["answer"])
}

func TestQRCode(t *testing.T) {
	srv := newTestServer(t)
	roomID := createRoom(t, srv)

	rec := doRequest(t, srv, http.MethodGet, "/room/"+roomID+"/qr")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())

	rec = doRequest(t, srv, http.MethodGet, "/room/deadbeef/qr")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodOptions, "/create_room")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = doRequest(t, srv, http.MethodGet, "/create_room")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
