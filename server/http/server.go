package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"github.com/whoisai/backend/model"
	"github.com/whoisai/backend/storage/memory"
)

const (
	defaultShutdownDeadline = 10 * time.Second

	qrSize = 256
)

var (
	ErrUnexpected = errors.New("unexpected server error")
)

// GameService is the room state machine surface the REST API drives. The
// websocket server converges on the same methods.
type GameService interface {
	CreateRoom(ctx context.Context) (roomID, question string, err error)
	StartRound(ctx context.Context, roomID string) (question string, err error)
	JoinRoom(ctx context.Context, roomID string, p model.Player) (model.Snapshot, error)
	Snapshot(ctx context.Context, roomID string) (model.Snapshot, error)
	SubmitAnswer(ctx context.Context, roomID, playerID, answer string) error
	SubmitVote(ctx context.Context, roomID, voterID, targetID string) error
	GenerateAIAnswers(ctx context.Context, roomID string) ([]model.AIAnswer, error)
}

type Server struct {
	logger    zerolog.Logger
	svc       GameService
	publicURL string
	*http.Server
}

type Config struct {
	Logger      *zerolog.Logger
	GameService GameService
	ListenAddr  string
	PublicURL   string
}

func NewServer(cfg Config) *Server {
	srv := &Server{
		logger:    cfg.Logger.With().Str("component", "api-server").Logger(),
		svc:       cfg.GameService,
		publicURL: strings.TrimSuffix(cfg.PublicURL, "/"),
	}

	r := httprouter.New()
	r.GET("/", srv.home)
	r.GET("/healthz", srv.healthCheck)
	r.GET("/create_room", srv.createRoom)
	r.GET("/join_room/:room_id", srv.joinRoom)
	r.GET("/start_game/:room_id", srv.startGame)
	r.POST("/submit_answer", srv.submitAnswer)
	r.POST("/submit_vote", srv.submitVote)
	r.POST("/ai_answers/:room_id", srv.aiAnswers)
	r.GET("/room/:room_id/qr", srv.qr)
	r.GlobalOPTIONS = http.HandlerFunc(corsHandler)

	srv.Server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}
	return srv
}

func corsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (srv *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(code)
	if _, err = w.Write(b); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write response")
	}
}

func (srv *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case errors.Is(err, memory.ErrRoomNotFound):
		code = http.StatusNotFound
		msg = "Room does not exist."
	case errors.Is(err, memory.ErrPlayerNotFound):
		code = http.StatusBadRequest
		msg = "Player is not in the room."
	}
	srv.writeJSON(w, code, errorResponse{Status: "error", Message: msg})
}

func (srv *Server) home(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	srv.writeJSON(w, http.StatusOK, map[string]string{
		"message": "Who is AI? Game is running!",
	})
}

func (srv *Server) healthCheck(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (srv *Server) createRoom(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	roomID, _, err := srv.svc.CreateRoom(r.Context())
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, map[string]string{"room_id": roomID})
}

type joinResponse struct {
	Status   string   `json:"status"`
	RoomID   string   `json:"room_id"`
	Question string   `json:"question"`
	Players  []string `json:"players"`
}

// joinRoom returns the room snapshot. With a player_id parameter it also
// registers the player; without one it is a read-only resync.
func (srv *Server) joinRoom(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	var (
		roomID = p.ByName("room_id")
		snap   model.Snapshot
		err    error
	)
	if playerID := r.URL.Query().Get("player_id"); playerID != "" {
		player := model.Player{
			ID:   playerID,
			Name: playerID,
			IsAI: r.URL.Query().Get("is_ai") == "true",
		}
		snap, err = srv.svc.JoinRoom(r.Context(), roomID, player)
	} else {
		snap, err = srv.svc.Snapshot(r.Context(), roomID)
	}
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, joinResponse{
		Status:   "ok",
		RoomID:   snap.RoomID,
		Question: snap.Question,
		Players:  snap.Players,
	})
}

func (srv *Server) startGame(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	question, err := srv.svc.StartRound(r.Context(), p.ByName("room_id"))
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "Game started",
		"question": question,
	})
}

// param reads a request parameter from the query string or, for form
// submissions, the request body.
func param(r *http.Request, name string) string {
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	return r.PostFormValue(name)
}

func (srv *Server) submitAnswer(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	roomID, playerID, answer := param(r, "room_id"), param(r, "player_id"), param(r, "answer")
	if roomID == "" || playerID == "" || answer == "" {
		srv.writeJSON(w, http.StatusBadRequest, errorResponse{
			Status:  "error",
			Message: "room_id, player_id and answer are required",
		})
		return
	}
	if err := srv.svc.SubmitAnswer(r.Context(), roomID, playerID, answer); err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (srv *Server) submitVote(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	roomID, voterID, targetID := param(r, "room_id"), param(r, "voter_id"), param(r, "target_id")
	if roomID == "" || voterID == "" || targetID == "" {
		srv.writeJSON(w, http.StatusBadRequest, errorResponse{
			Status:  "error",
			Message: "room_id, voter_id and target_id are required",
		})
		return
	}
	if err := srv.svc.SubmitVote(r.Context(), roomID, voterID, targetID); err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (srv *Server) aiAnswers(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	answers, err := srv.svc.GenerateAIAnswers(r.Context(), p.ByName("room_id"))
	if err != nil {
		srv.writeError(w, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"answers": answers,
	})
}

// qr renders a PNG QR code pointing at the room's join URL, for sharing
// the room from a screen.
func (srv *Server) qr(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	roomID := p.ByName("room_id")
	if _, err := srv.svc.Snapshot(r.Context(), roomID); err != nil {
		srv.writeError(w, err)
		return
	}

	base := srv.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}

	png, err := qrcode.Encode(base+"/join_room/"+roomID, qrcode.Medium, qrSize)
	if err != nil {
		srv.logger.Error().Err(err).Msg("failed to encode qr code")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	if _, err = w.Write(png); err != nil {
		srv.logger.Error().Err(err).Msg("failed to write qr code")
	}
}

func (srv *Server) Run(ctx context.Context, wg *sync.WaitGroup, errc chan<- error) {
	defer func() {
		srv.logger.Debug().Msg("server stopped")
		wg.Done()
	}()

	hErr := make(chan error)
	go func() {
		hErr <- srv.ListenAndServe()
	}()

	srv.logger.Info().Str("addr", srv.Addr).Msg("server started")

	select {
	case err := <-hErr:
		if !errors.Is(err, http.ErrServerClosed) {
			errc <- errors.Join(ErrUnexpected, err)
		}
	case <-ctx.Done():
		shCtx, shCancel := context.WithTimeout(context.Background(), defaultShutdownDeadline)
		defer shCancel()
		if err := srv.Shutdown(shCtx); err != nil {
			srv.logger.Error().Err(err).Msg("server shutdown failed")
		}
	}
}
