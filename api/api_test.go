package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/corpos/channel/api/validator"
	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"
)

var jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestAPI_listMessages(t *testing.T) {
	tests := []struct {
		name       string
		store      *teststore
		wantStatus int
		wantBody   string
	}{
		{
			name: "StoreError",
			store: &teststore{
				listMessages: func(t *testing.T) ([]Message, error) {
					return nil, errors.New("something went wrong")
				},
			},
			wantStatus: 500,
			wantBody: `{
				"error": "Failed to fetch messages"
			}`,
		},
		{
			name: "Empty",
			store: &teststore{
				listMessages: func(t *testing.T) ([]Message, error) {
					return nil, nil
				},
			},
			wantStatus: 200,
			wantBody:   `[]`,
		},
		{
			name: "OK",
			store: &teststore{
				listMessages: func(t *testing.T) ([]Message, error) {
					url, name := "/uploads/1-2.png", "cat.png"
					return []Message{
						{
							ID:            "1",
							Content:       "Hello",
							MessageType:   TypeText,
							ViewCount:     3,
							IsPinned:      true,
							ReactionCount: 2,
							Reactions:     Reactions{"👍": {"u1", "u2"}},
							CreatedAt:     jan1,
						},
						{
							ID:            "2",
							MessageType:   TypeImage,
							MediaURL:      &url,
							MediaFilename: &name,
							Reactions:     Reactions{},
							CreatedAt:     jan1.Add(time.Hour),
						},
					}, nil
				},
			},
			wantStatus: 200,
			wantBody: `[
				{
					"id": "1",
					"content": "Hello",
					"messageType": "text",
					"mediaUrl": null,
					"mediaFilename": null,
					"viewCount": 3,
					"isPinned": true,
					"reactionCount": 2,
					"reactions": {"👍": ["u1", "u2"]},
					"createdAt": "2024-01-01T00:00:00Z"
				},
				{
					"id": "2",
					"content": "",
					"messageType": "image",
					"mediaUrl": "/uploads/1-2.png",
					"mediaFilename": "cat.png",
					"viewCount": 0,
					"isPinned": false,
					"reactionCount": 0,
					"reactions": {},
					"createdAt": "2024-01-01T01:00:00Z"
				}
			]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.store.T = t
			srv := newServer(t, &API{Store: tt.store, Logger: slogt.New(t)})

			resp := do(t, "GET", srv.URL+"/api/messages", "", nil)
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestAPI_createMessage(t *testing.T) {
	tests := []struct {
		name        string
		store       *teststore
		req         string
		wantStatus  int
		wantBody    string
		containsLog string
	}{
		{
			name:       "InvalidJSON",
			req:        `not json`,
			wantStatus: 400,
			wantBody: `{
				"error": "Invalid message data"
			}`,
		},
		{
			name:       "MissingContent",
			req:        `{"messageType": "text"}`,
			wantStatus: 400,
			wantBody: `{
				"error": "Invalid message data",
				"errors": [{"field": "content", "message": "is required"}]
			}`,
			containsLog: "Validation failed",
		},
		{
			name:       "EmptyContent",
			req:        `{"content": "", "messageType": "text"}`,
			wantStatus: 400,
			wantBody: `{
				"error": "Invalid message data",
				"errors": [{"field": "content", "message": "is required"}]
			}`,
		},
		{
			name:       "UnknownType",
			req:        `{"content": "hi", "messageType": "audio"}`,
			wantStatus: 400,
			wantBody: `{
				"error": "Invalid message data",
				"errors": [{"field": "messageType", "message": "must be one of: text image video file"}]
			}`,
		},
		{
			name: "StoreError",
			req:  `{"content": "hello"}`,
			store: &teststore{
				createMessage: func(t *testing.T, msg NewMessage) (Message, error) {
					return Message{}, errors.New("disk full")
				},
			},
			wantStatus: 500,
			wantBody: `{
				"error": "Failed to create message"
			}`,
			containsLog: "disk full",
		},
		{
			name: "OK",
			req:  `{"content": "hello", "messageType": "text"}`,
			store: &teststore{
				createMessage: func(t *testing.T, msg NewMessage) (Message, error) {
					want := NewMessage{Content: "hello", MessageType: TypeText}
					if msg != want {
						t.Errorf("Got %+v, want %+v", msg, want)
					}
					return msg.Build("1", jan1), nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"id": "1",
				"content": "hello",
				"messageType": "text",
				"mediaUrl": null,
				"mediaFilename": null,
				"viewCount": 0,
				"isPinned": false,
				"reactionCount": 0,
				"reactions": {},
				"createdAt": "2024-01-01T00:00:00Z"
			}`,
			containsLog: "Message created",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.store == nil {
				tt.store = &teststore{}
			}
			tt.store.T = t
			buf := &bytes.Buffer{}
			srv := newServer(t, &API{
				Store:  tt.store,
				Logger: slog.New(slog.NewTextHandler(buf, nil)),
			})

			resp := do(t, "POST", srv.URL+"/api/messages", "application/json", strings.NewReader(tt.req))
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
			checkLog(t, buf, tt.containsLog)
		})
	}
}

func TestAPI_uploadMessage(t *testing.T) {
	type part struct {
		name, filename, value string
	}
	tests := []struct {
		name       string
		parts      []part
		media       *testmedia
		store       *teststore
		wantStatus  int
		wantBody    string
		wantRemoved []string
	}{
		{
			name:       "NoFile",
			parts:      []part{{name: "content", value: "caption"}},
			wantStatus: 400,
			wantBody:   `{"error": "No file uploaded"}`,
		},
		{
			name: "UnknownType",
			parts: []part{
				{name: "messageType", value: "audio"},
				{name: "file", filename: "a.mp3", value: "ID3"},
			},
			wantStatus: 400,
			wantBody: `{
				"error": "Invalid message data or file upload failed",
				"errors": [{"field": "messageType", "message": "must be one of: text image video file"}]
			}`,
		},
		{
			name:       "MediaError",
			parts:      []part{{name: "file", filename: "a.png", value: "png"}},
			media:      &testmedia{err: errors.New("bucket gone")},
			wantStatus: 500,
			wantBody:   `{"error": "Failed to store uploaded file"}`,
		},
		{
			name:  "StoreErrorRemovesUpload",
			parts: []part{{name: "file", filename: "a.png", value: "png"}},
			media: &testmedia{saved: SavedFile{Key: "1-1.png", URL: "/uploads/1-1.png", ContentType: "image/png"}},
			store: &teststore{
				createMessage: func(t *testing.T, msg NewMessage) (Message, error) {
					return Message{}, errors.New("disk full")
				},
			},
			wantStatus:  500,
			wantBody:    `{"error": "Failed to create message"}`,
			wantRemoved: []string{"1-1.png"},
		},
		{
			name: "ExplicitType",
			parts: []part{
				{name: "content", value: "Quarterly report"},
				{name: "messageType", value: "file"},
				{name: "file", filename: "Q1.pdf", value: "%PDF-1.4"},
			},
			media: &testmedia{saved: SavedFile{URL: "/uploads/1-1.pdf", ContentType: "application/pdf"}},
			store: &teststore{
				createMessage: func(t *testing.T, msg NewMessage) (Message, error) {
					want := NewMessage{
						Content:       "Quarterly report",
						MessageType:   TypeFile,
						MediaURL:      "/uploads/1-1.pdf",
						MediaFilename: "Q1.pdf",
					}
					if msg != want {
						t.Errorf("Got %+v, want %+v", msg, want)
					}
					return msg.Build("1", jan1), nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"id": "1",
				"content": "Quarterly report",
				"messageType": "file",
				"mediaUrl": "/uploads/1-1.pdf",
				"mediaFilename": "Q1.pdf",
				"viewCount": 0,
				"isPinned": false,
				"reactionCount": 0,
				"reactions": {},
				"createdAt": "2024-01-01T00:00:00Z"
			}`,
		},
		{
			name:  "DetectedType",
			parts: []part{{name: "file", filename: "clip.mp4", value: "...."}},
			media: &testmedia{saved: SavedFile{URL: "/uploads/1-1.mp4", ContentType: "video/mp4"}},
			store: &teststore{
				createMessage: func(t *testing.T, msg NewMessage) (Message, error) {
					if msg.MessageType != TypeVideo {
						t.Errorf("Got type %q, want video", msg.MessageType)
					}
					if msg.Content != "" {
						t.Errorf("Got content %q, want empty", msg.Content)
					}
					return msg.Build("1", jan1), nil
				},
			},
			wantStatus: 200,
			wantBody: `{
				"id": "1",
				"content": "",
				"messageType": "video",
				"mediaUrl": "/uploads/1-1.mp4",
				"mediaFilename": "clip.mp4",
				"viewCount": 0,
				"isPinned": false,
				"reactionCount": 0,
				"reactions": {},
				"createdAt": "2024-01-01T00:00:00Z"
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.store == nil {
				tt.store = &teststore{}
			}
			if tt.media == nil {
				tt.media = &testmedia{}
			}
			tt.store.T = t
			srv := newServer(t, &API{Store: tt.store, Media: tt.media, Logger: slogt.New(t)})

			body := &bytes.Buffer{}
			mw := multipart.NewWriter(body)
			for _, p := range tt.parts {
				if p.filename == "" {
					if err := mw.WriteField(p.name, p.value); err != nil {
						t.Fatal(err)
					}
					continue
				}
				fw, err := mw.CreateFormFile(p.name, p.filename)
				if err != nil {
					t.Fatal(err)
				}
				io.WriteString(fw, p.value)
			}
			mw.Close()

			resp := do(t, "POST", srv.URL+"/api/messages/upload", mw.FormDataContentType(), body)
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
			if diff := cmp.Diff(tt.wantRemoved, tt.media.removed); diff != "" {
				t.Errorf("Removed uploads mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAPI_uploadMessage_NotMultipart(t *testing.T) {
	srv := newServer(t, &API{Store: &teststore{T: t}, Media: &testmedia{}, Logger: slogt.New(t)})

	resp := do(t, "POST", srv.URL+"/api/messages/upload", "application/json", strings.NewReader(`{}`))
	checkStatus(t, resp.StatusCode, 400)
	checkBody(t, resp, `{"error": "Invalid message data or file upload failed"}`)
}

func TestAPI_messageActions(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		req        string
		store      *teststore
		wantStatus int
		wantBody   string
	}{
		{
			name:   "View",
			method: "POST",
			path:   "/api/messages/abc/view",
			store: &teststore{
				incrementViewCount: func(t *testing.T, id string) error {
					if id != "abc" {
						t.Errorf("Got id %q, want abc", id)
					}
					return nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"success": true}`,
		},
		{
			name:   "ViewError",
			method: "POST",
			path:   "/api/messages/abc/view",
			store: &teststore{
				incrementViewCount: func(t *testing.T, id string) error { return errors.New("boom") },
			},
			wantStatus: 500,
			wantBody:   `{"error": "Failed to increment view count"}`,
		},
		{
			name:   "Pin",
			method: "POST",
			path:   "/api/messages/abc/pin",
			store: &teststore{
				togglePin: func(t *testing.T, id string) error {
					if id != "abc" {
						t.Errorf("Got id %q, want abc", id)
					}
					return nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"success": true}`,
		},
		{
			name:   "PinError",
			method: "POST",
			path:   "/api/messages/abc/pin",
			store: &teststore{
				togglePin: func(t *testing.T, id string) error { return errors.New("boom") },
			},
			wantStatus: 500,
			wantBody:   `{"error": "Failed to toggle pin status"}`,
		},
		{
			name:   "Reaction",
			method: "POST",
			path:   "/api/messages/abc/reaction",
			req:    `{"userId": "u1", "emoji": "👍"}`,
			store: &teststore{
				toggleReaction: func(t *testing.T, id, userID, emoji string) error {
					if id != "abc" || userID != "u1" || emoji != "👍" {
						t.Errorf("Got %q %q %q, want abc u1 👍", id, userID, emoji)
					}
					return nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"success": true}`,
		},
		{
			name:   "ReactionWithoutBody",
			method: "POST",
			path:   "/api/messages/abc/reaction",
			store: &teststore{
				toggleReaction: func(t *testing.T, id, userID, emoji string) error {
					if userID != "" || emoji != "" {
						t.Errorf("Got %q %q, want defaults left to the store", userID, emoji)
					}
					return nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"success": true}`,
		},
		{
			name:       "ReactionInvalidJSON",
			method:     "POST",
			path:       "/api/messages/abc/reaction",
			req:        `{"userId":`,
			wantStatus: 400,
			wantBody:   `{"error": "Invalid reaction data"}`,
		},
		{
			name:   "ReactionError",
			method: "POST",
			path:   "/api/messages/abc/reaction",
			req:    `{"userId": "u1"}`,
			store: &teststore{
				toggleReaction: func(t *testing.T, id, userID, emoji string) error { return errors.New("boom") },
			},
			wantStatus: 500,
			wantBody:   `{"error": "Failed to toggle reaction"}`,
		},
		{
			name:   "Delete",
			method: "DELETE",
			path:   "/api/messages/abc",
			store: &teststore{
				deleteMessage: func(t *testing.T, id string) error {
					if id != "abc" {
						t.Errorf("Got id %q, want abc", id)
					}
					return nil
				},
			},
			wantStatus: 200,
			wantBody:   `{"success": true}`,
		},
		{
			name:   "DeleteError",
			method: "DELETE",
			path:   "/api/messages/abc",
			store: &teststore{
				deleteMessage: func(t *testing.T, id string) error { return errors.New("boom") },
			},
			wantStatus: 500,
			wantBody:   `{"error": "Failed to delete message"}`,
		},
		{
			name:       "Health",
			method:     "GET",
			path:       "/healthz",
			wantStatus: 200,
			wantBody:   `{"status": "ok"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.store == nil {
				tt.store = &teststore{}
			}
			tt.store.T = t
			srv := newServer(t, &API{Store: tt.store, Logger: slogt.New(t)})

			var body io.Reader
			if tt.req != "" {
				body = strings.NewReader(tt.req)
			}
			resp := do(t, tt.method, srv.URL+tt.path, "application/json", body)
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestAPI_searchMessages(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		store      *teststore
		wantStatus int
		wantBody   string
	}{
		{
			name:       "MissingQuery",
			wantStatus: 400,
			wantBody:   `{"error": "Search query is required"}`,
		},
		{
			name:  "StoreError",
			query: "?q=cat",
			store: &teststore{
				searchMessages: func(t *testing.T, q string) ([]Message, error) {
					return nil, errors.New("boom")
				},
			},
			wantStatus: 500,
			wantBody:   `{"error": "Failed to search messages"}`,
		},
		{
			name:  "NoMatches",
			query: "?q=parrot",
			store: &teststore{
				searchMessages: func(t *testing.T, q string) ([]Message, error) {
					return nil, nil
				},
			},
			wantStatus: 200,
			wantBody:   `[]`,
		},
		{
			name:  "OK",
			query: "?q=Cats%20are",
			store: &teststore{
				searchMessages: func(t *testing.T, q string) ([]Message, error) {
					if q != "Cats are" {
						t.Errorf("Got query %q, want %q", q, "Cats are")
					}
					return []Message{{
						ID:          "1",
						Content:     "Cats are great",
						MessageType: TypeText,
						Reactions:   Reactions{},
						CreatedAt:   jan1,
					}}, nil
				},
			},
			wantStatus: 200,
			wantBody: `[{
				"id": "1",
				"content": "Cats are great",
				"messageType": "text",
				"mediaUrl": null,
				"mediaFilename": null,
				"viewCount": 0,
				"isPinned": false,
				"reactionCount": 0,
				"reactions": {},
				"createdAt": "2024-01-01T00:00:00Z"
			}]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.store == nil {
				tt.store = &teststore{}
			}
			tt.store.T = t
			srv := newServer(t, &API{Store: tt.store, Logger: slogt.New(t)})

			resp := do(t, "GET", srv.URL+"/api/messages/search"+tt.query, "", nil)
			checkStatus(t, resp.StatusCode, tt.wantStatus)
			checkBody(t, resp, tt.wantBody)
		})
	}
}

func TestAPI_uploads(t *testing.T) {
	uploads := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "file:"+r.URL.Path)
	})

	srv := newServer(t, &API{Store: &teststore{T: t}, Logger: slogt.New(t), Uploads: uploads})
	resp := do(t, "GET", srv.URL+"/uploads/1-2.png", "", nil)
	checkStatus(t, resp.StatusCode, 200)
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "file:1-2.png" {
		t.Errorf("Got body %q, want file:1-2.png", b)
	}

	srv = newServer(t, &API{Store: &teststore{T: t}, Logger: slogt.New(t)})
	resp = do(t, "GET", srv.URL+"/uploads/1-2.png", "", nil)
	checkStatus(t, resp.StatusCode, 404)
}

type teststore struct {
	T                  *testing.T
	listMessages       func(t *testing.T) ([]Message, error)
	createMessage      func(t *testing.T, msg NewMessage) (Message, error)
	incrementViewCount func(t *testing.T, id string) error
	togglePin          func(t *testing.T, id string) error
	toggleReaction     func(t *testing.T, id, userID, emoji string) error
	deleteMessage      func(t *testing.T, id string) error
	searchMessages     func(t *testing.T, query string) ([]Message, error)
}

func (s *teststore) unexpected(name string) error {
	s.T.Errorf("Unexpected call to %s", name)
	return errors.New("unexpected call")
}

func (s *teststore) ListMessages(_ context.Context) ([]Message, error) {
	if s.listMessages == nil {
		return nil, s.unexpected("ListMessages")
	}
	return s.listMessages(s.T)
}

func (s *teststore) CreateMessage(_ context.Context, msg NewMessage) (Message, error) {
	if s.createMessage == nil {
		return Message{}, s.unexpected("CreateMessage")
	}
	return s.createMessage(s.T, msg)
}

func (s *teststore) IncrementViewCount(_ context.Context, id string) error {
	if s.incrementViewCount == nil {
		return s.unexpected("IncrementViewCount")
	}
	return s.incrementViewCount(s.T, id)
}

func (s *teststore) TogglePin(_ context.Context, id string) error {
	if s.togglePin == nil {
		return s.unexpected("TogglePin")
	}
	return s.togglePin(s.T, id)
}

func (s *teststore) ToggleReaction(_ context.Context, id, userID, emoji string) error {
	if s.toggleReaction == nil {
		return s.unexpected("ToggleReaction")
	}
	return s.toggleReaction(s.T, id, userID, emoji)
}

func (s *teststore) DeleteMessage(_ context.Context, id string) error {
	if s.deleteMessage == nil {
		return s.unexpected("DeleteMessage")
	}
	return s.deleteMessage(s.T, id)
}

func (s *teststore) SearchMessages(_ context.Context, query string) ([]Message, error) {
	if s.searchMessages == nil {
		return nil, s.unexpected("SearchMessages")
	}
	return s.searchMessages(s.T, query)
}

type testmedia struct {
	saved   SavedFile
	err     error
	removed []string
}

func (m *testmedia) Remove(_ context.Context, f SavedFile) error {
	m.removed = append(m.removed, f.Key)
	return nil
}

func (m *testmedia) Save(_ context.Context, _ string, r io.Reader) (SavedFile, error) {
	if _, err := io.ReadAll(r); err != nil {
		return SavedFile{}, err
	}
	return m.saved, m.err
}

func newServer(t *testing.T, a *API) *httptest.Server {
	t.Helper()
	if a.Val == nil {
		a.Val = validator.New()
	}
	srv := httptest.NewServer(a)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func checkStatus(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("Got HTTP status %d, want %d", got, want)
	}
}

func checkBody(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	gotBody := normalizeJSON(t, resp.Body)
	wantBody := normalizeJSON(t, bytes.NewReader([]byte(want)))
	if gotBody != wantBody {
		t.Errorf("Body does not match\nGot\n  %s\n\nWant\n  %s", gotBody, wantBody)
	}
}

func checkLog(t *testing.T, buffer *bytes.Buffer, want string) {
	t.Helper()

	if s := buffer.String(); want != "" && !strings.Contains(s, want) {
		t.Errorf("Log does not contain  %s\n", want)
	}
}

// normalizeJSON re-encodes the document so that whitespace and key order
// do not matter.
func normalizeJSON(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Could not read JSON: %v", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("Could not decode JSON %q: %v", b, err)
	}
	out, err := json.MarshalIndent(v, "  ", "  ")
	if err != nil {
		t.Fatalf("Could not encode JSON: %v", err)
	}
	return string(out)
}
