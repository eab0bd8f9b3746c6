package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/corpos/channel/api/validator"
)

// A Store provides a storage layer that persists channel messages.
// Operations on an unknown message id are no-ops and do not return an error.
type Store interface {
	ListMessages(ctx context.Context) ([]Message, error)
	CreateMessage(ctx context.Context, msg NewMessage) (Message, error)
	IncrementViewCount(ctx context.Context, id string) error
	TogglePin(ctx context.Context, id string) error
	ToggleReaction(ctx context.Context, id, userID, emoji string) error
	DeleteMessage(ctx context.Context, id string) error
	SearchMessages(ctx context.Context, query string) ([]Message, error)
}

// A SavedFile describes an uploaded file after it has been stored.
type SavedFile struct {
	// Key identifies the file within its storage.
	Key         string
	URL         string
	ContentType string
}

// A MediaStorage stores uploaded files and returns where they can be
// fetched from.
type MediaStorage interface {
	Save(ctx context.Context, filename string, r io.Reader) (SavedFile, error)
	Remove(ctx context.Context, f SavedFile) error
}

// API provides the REST endpoints for the application.
type API struct {
	Logger *slog.Logger
	Store  Store
	Media  MediaStorage
	Val    *validator.Validator

	// Uploads serves stored media under /uploads/ when set.
	Uploads http.Handler

	once sync.Once
	mux  *http.ServeMux
}

// maxUploadMemory is the part of a multipart upload kept in memory; the
// rest is spooled to temporary files.
const maxUploadMemory = 32 << 20

func (a *API) setupRoutes() {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/messages", a.listMessages)
	mux.HandleFunc("POST /api/messages", a.createMessage)
	mux.HandleFunc("POST /api/messages/upload", a.uploadMessage)
	mux.HandleFunc("GET /api/messages/search", a.searchMessages)
	mux.HandleFunc("POST /api/messages/{messageID}/view", a.viewMessage)
	mux.HandleFunc("POST /api/messages/{messageID}/pin", a.pinMessage)
	mux.HandleFunc("POST /api/messages/{messageID}/reaction", a.toggleReaction)
	mux.HandleFunc("DELETE /api/messages/{messageID}", a.deleteMessage)
	mux.HandleFunc("GET /healthz", a.health)

	if a.Uploads != nil {
		mux.Handle("GET /uploads/", http.StripPrefix("/uploads/", a.Uploads))
	}

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	a.Logger.Info("Request received", "method", r.Method, "path", r.URL.Path)
	a.mux.ServeHTTP(w, r)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error string `json:"error"`
	}
	a.Logger.Error("Error", "error", err.Error(), "status", status)
	a.respond(w, status, response{Error: msg})
}

func (a *API) respondSuccess(w http.ResponseWriter) {
	type response struct {
		Success bool `json:"success"`
	}
	a.respond(w, http.StatusOK, response{Success: true})
}

func (a *API) validateBody(w http.ResponseWriter, s any, msg string) bool {
	type response struct {
		Error  string                      `json:"error"`
		Errors []validator.ValidationError `json:"errors"`
	}

	if errs := a.Val.ValidateStruct(s); len(errs) > 0 {
		a.Logger.Info("Validation failed", "errors", errs)
		a.respond(w, http.StatusBadRequest, &response{
			Error:  msg,
			Errors: errs,
		})
		return false
	}
	return true
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.Store.ListMessages(r.Context())
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Failed to fetch messages")
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}
	a.Logger.Info("Listed messages", "count", len(msgs))
	a.respond(w, http.StatusOK, msgs)
}

func (a *API) createMessage(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Content     string `json:"content" validate:"required"`
		MessageType string `json:"messageType" validate:"omitempty,oneof=text image video file"`
	}

	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid message data")
		return
	}

	if valid := a.validateBody(w, &body, "Invalid message data"); !valid {
		return
	}

	msg, err := a.Store.CreateMessage(r.Context(), NewMessage{
		Content:     body.Content,
		MessageType: MessageType(body.MessageType),
	})
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Failed to create message")
		return
	}

	a.Logger.Info("Message created", "id", msg.ID, "type", msg.MessageType)
	a.respond(w, http.StatusOK, msg)
}

func (a *API) uploadMessage(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Content     string `json:"content"`
		MessageType string `json:"messageType" validate:"omitempty,oneof=text image video file"`
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid message data or file upload failed")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "No file uploaded")
		return
	}
	defer file.Close()

	body := request{
		Content:     r.FormValue("content"),
		MessageType: r.FormValue("messageType"),
	}
	if valid := a.validateBody(w, &body, "Invalid message data or file upload failed"); !valid {
		return
	}

	saved, err := a.Media.Save(r.Context(), header.Filename, file)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Failed to store uploaded file")
		return
	}

	msgType := MessageType(body.MessageType)
	if msgType == "" {
		msgType = TypeForContentType(saved.ContentType)
	}

	msg, err := a.Store.CreateMessage(r.Context(), NewMessage{
		Content:       body.Content,
		MessageType:   msgType,
		MediaURL:      saved.URL,
		MediaFilename: header.Filename,
	})
	if err != nil {
		if rmErr := a.Media.Remove(r.Context(), saved); rmErr != nil {
			a.Logger.Error("Could not remove orphaned upload", "key", saved.Key, "error", rmErr.Error())
		}
		a.respondError(w, http.StatusInternalServerError, err, "Failed to create message")
		return
	}

	a.Logger.Info("Media message created", "id", msg.ID, "type", msg.MessageType, "url", saved.URL, "size", header.Size)
	a.respond(w, http.StatusOK, msg)
}

func (a *API) viewMessage(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.IncrementViewCount(r.Context(), r.PathValue("messageID")); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Failed to increment view count")
		return
	}
	a.respondSuccess(w)
}

func (a *API) pinMessage(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.TogglePin(r.Context(), r.PathValue("messageID")); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Failed to toggle pin status")
		return
	}
	a.respondSuccess(w)
}

func (a *API) toggleReaction(w http.ResponseWriter, r *http.Request) {
	type request struct {
		UserID string `json:"userId"`
		Emoji  string `json:"emoji"`
	}

	// The body is optional; both fields have defaults.
	var body request
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		a.respondError(w, http.StatusBadRequest, err, "Invalid reaction data")
		return
	}

	messageID := r.PathValue("messageID")
	if err := a.Store.ToggleReaction(r.Context(), messageID, body.UserID, body.Emoji); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Failed to toggle reaction")
		return
	}
	a.respondSuccess(w)
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := a.Store.DeleteMessage(r.Context(), r.PathValue("messageID")); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Failed to delete message")
		return
	}
	a.respondSuccess(w)
}

func (a *API) searchMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if errs := a.Val.Validate(q, "required"); len(errs) > 0 {
		a.respondError(w, http.StatusBadRequest, errors.New("missing q parameter"), "Search query is required")
		return
	}

	msgs, err := a.Store.SearchMessages(r.Context(), q)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Failed to search messages")
		return
	}
	if msgs == nil {
		msgs = []Message{}
	}
	a.respond(w, http.StatusOK, msgs)
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	a.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
