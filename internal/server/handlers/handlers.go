package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/crypto/bcrypt"

	"github.com/tavernhq/tavernmsg/internal/server/models"
	"github.com/tavernhq/tavernmsg/internal/server/ratelimit"
	"github.com/tavernhq/tavernmsg/internal/server/storage"
	wschat "github.com/tavernhq/tavernmsg/internal/server/ws"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// API bundles the HTTP surface: auth, conversations, uploads, and the
// WebSocket upgrade.
type API struct {
	Store          *storage.Store
	Hub            *wschat.Hub
	Limiter        *ratelimit.RateLimiter
	Log            *slog.Logger
	UploadDir      string
	MaxUploadBytes int64
	SnapshotSize   int
}

func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/register/", a.Register).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login/", a.Login).Methods(http.MethodPost)
	r.HandleFunc("/api/conversations/", a.ListConversations).Methods(http.MethodGet)
	r.HandleFunc("/api/conversations/start/", a.StartConversation).Methods(http.MethodPost)
	r.HandleFunc("/api/conversations/{id:[0-9]+}/upload/", a.Upload).Methods(http.MethodPost)
	r.HandleFunc("/ws/chat/{id:[0-9]+}/", a.HandleWebSocket)
	r.PathPrefix("/uploads/").Handler(
		http.StripPrefix("/uploads/", http.FileServer(http.Dir(a.UploadDir))))
	return r
}

func (a *API) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// --- auth ---

func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	a.handleAuth(w, r, true)
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	a.handleAuth(w, r, false)
}

func (a *API) handleAuth(w http.ResponseWriter, r *http.Request, register bool) {
	ip := ratelimit.GetClientIP(r)
	if !a.Limiter.CanAuth(ip) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts, please wait a minute")
		return
	}

	var req models.AuthRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	var userID int64
	if register {
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "registration failed")
			return
		}
		userID, err = a.Store.CreateUser(req.Username, string(hash))
		if err != nil {
			writeError(w, http.StatusConflict, "username already taken")
			return
		}
	} else {
		user, err := a.Store.GetUserByUsername(req.Username)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		userID = user.ID
	}

	token, err := a.Store.CreateToken(userID)
	if err != nil {
		a.Log.Error("create token", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":    token,
		"user_id":  userID,
		"username": req.Username,
	})
}

// authenticate resolves the bearer token from the Authorization header.
func (a *API) authenticate(r *http.Request) (*models.User, error) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return nil, fmt.Errorf("missing bearer token")
	}
	return a.Store.GetUserByToken(token)
}

// --- conversations ---

func (a *API) ListConversations(w http.ResponseWriter, r *http.Request) {
	user, err := a.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	convs, err := a.Store.GetUserConversations(user.ID)
	if err != nil {
		a.Log.Error("list conversations", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "could not load conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (a *API) StartConversation(w http.ResponseWriter, r *http.Request) {
	user, err := a.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req models.StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Participants) == 0 {
		writeError(w, http.StatusBadRequest, "participants are required")
		return
	}

	conv, err := a.Store.StartConversation(user.ID, req)
	if err != nil {
		a.Log.Error("start conversation", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "could not start conversation")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// --- uploads ---

// Upload accepts a multipart request (field name "files"), stores each file
// on disk plus a metadata row, and returns the attachment IDs the client
// references in its next send_message frame.
func (a *API) Upload(w http.ResponseWriter, r *http.Request) {
	user, err := a.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	convID, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if !a.Store.IsParticipant(convID, user.ID) {
		writeError(w, http.StatusForbidden, "not a participant of this conversation")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	if err := r.ParseMultipartForm(a.MaxUploadBytes); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "no files in request")
		return
	}

	fileIDs := make([]string, 0, len(files))
	for _, fh := range files {
		id, err := a.saveUpload(convID, user.ID, fh)
		if err != nil {
			a.Log.Error("save upload", "error", err, "file", fh.Filename)
			writeError(w, http.StatusInternalServerError, "could not store file")
			return
		}
		fileIDs = append(fileIDs, id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"file_ids": fileIDs})
}

func (a *API) saveUpload(convID, userID int64, fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	id := uuid.NewString()
	name := filepath.Base(fh.Filename)
	stored := id + "_" + name
	if err := os.MkdirAll(a.UploadDir, 0o755); err != nil {
		return "", err
	}
	dst, err := os.Create(filepath.Join(a.UploadDir, stored))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	size, err := io.Copy(dst, src)
	if err != nil {
		return "", err
	}

	ctype := fh.Header.Get("Content-Type")
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	att := models.Attachment{
		ID:          id,
		FileName:    name,
		ContentType: ctype,
		URL:         "/uploads/" + stored,
		Size:        humanize.Bytes(uint64(size)),
		IsImage:     strings.HasPrefix(ctype, "image/"),
	}
	if err := a.Store.SaveAttachment(convID, userID, att, size); err != nil {
		return "", err
	}
	return id, nil
}

// --- websocket ---

// HandleWebSocket authenticates the token from the query string, checks
// conversation membership, then hands the socket to the hub. The joiner
// gets a connection_status frame and an initial_messages snapshot before
// any live traffic.
func (a *API) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := ratelimit.GetClientIP(r)
	if !a.Limiter.CanConnect(clientIP) {
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		a.Log.Warn("rate limited connection", "ip", clientIP)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	user, err := a.Store.GetUserByToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	convID, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if !a.Store.IsParticipant(convID, user.ID) {
		http.Error(w, "not a participant", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Log.Warn("upgrade failed", "error", err)
		return
	}

	a.Limiter.AddConnection(clientIP)

	client := wschat.NewClient(a.Hub, conn, a.Store, a.Log, user.ID, user.Username, convID, clientIP)

	client.SendJSON(map[string]any{"type": "connection_status", "status": "connected"})
	msgs, err := a.Store.GetConversationMessages(convID, a.SnapshotSize)
	if err != nil {
		a.Log.Error("load snapshot", "error", err, "conversation_id", convID)
		msgs = nil
	}
	client.SendJSON(map[string]any{"type": "initial_messages", "messages": msgs})
	a.Store.UpdateReadReceipt(user.ID, convID)

	go func() {
		defer a.Limiter.RemoveConnection(clientIP)
		client.WritePump()
	}()
	go client.ReadPump()

	a.Hub.Register <- client
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
