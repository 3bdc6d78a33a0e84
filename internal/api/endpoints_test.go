package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailtrail/internal/media"
	"tailtrail/internal/models"
	"tailtrail/internal/testutil"
)

// recordedRequest captures what the handler saw for later assertions.
type recordedRequest struct {
	method string
	path   string
	query  string
	body   map[string]any
	form   map[string]string
	files  []string
}

func recordJSON(t *testing.T, rec *recordedRequest, status int, response string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()

	var rec recordedRequest
	server := httptest.NewServer(recordJSON(t, &rec, http.StatusOK, `{"token":"jwt-123"}`))
	defer server.Close()

	c := newTestClient(t, server, Options{})
	token, err := c.Login(context.Background(), "user@example.com", "hunter2")
	require.NoError(t, err)

	assert.Equal(t, "jwt-123", token)
	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/api/v1/auth/login", rec.path)
	assert.Equal(t, "user@example.com", rec.body["email"])
	assert.Equal(t, "hunter2", rec.body["password"])
}

func TestSignup(t *testing.T) {
	t.Parallel()

	var rec recordedRequest
	server := httptest.NewServer(recordJSON(t, &rec, http.StatusCreated, `{}`))
	defer server.Close()

	c := newTestClient(t, server, Options{})
	require.NoError(t, c.Signup(context.Background(), "new@example.com", "pw", "+15550100"))

	assert.Equal(t, "/api/v1/auth/signup", rec.path)
	assert.Equal(t, "+15550100", rec.body["phone"])
}

func TestProfile(t *testing.T) {
	t.Parallel()

	var rec recordedRequest
	server := httptest.NewServer(recordJSON(t, &rec, http.StatusOK, `{"id":"u-9","email":"me@example.com"}`))
	defer server.Close()

	c := newTestClient(t, server, Options{Tokens: staticTokens("token")})
	user, err := c.Profile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, rec.method)
	assert.Equal(t, "/api/v1/users/profile", rec.path)
	assert.Equal(t, "u-9", user.ID)
}

func TestListPosts_QueryAndEnvelope(t *testing.T) {
	t.Parallel()

	var rec recordedRequest
	server := httptest.NewServer(recordJSON(t, &rec, http.StatusOK,
		`{"posts":[{"id":"p-1","pet_name":"Rex","is_liked":true}],"total":21,"page":2,"per_page":10,"total_pages":3,"has_next":true,"has_prev":true}`))
	defer server.Close()

	c := newTestClient(t, server, Options{})
	page, err := c.ListPosts(context.Background(), 2, 10)
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/posts/", rec.path)
	assert.Equal(t, "page=2&size=10", rec.query)
	require.Len(t, page.Posts, 1)
	assert.Equal(t, "Rex", page.Posts[0].PetName)
	assert.True(t, page.Posts[0].IsLiked)
	assert.True(t, page.HasNext)
	assert.Equal(t, 21, page.Total)
}

func TestCreatePost_Multipart(t *testing.T) {
	t.Parallel()

	var rec recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(32<<20))
		rec.form = make(map[string]string)
		for key, values := range r.MultipartForm.Value {
			rec.form[key] = values[0]
		}
		for _, fh := range r.MultipartForm.File["files"] {
			rec.files = append(rec.files, fh.Filename)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"post":{"id":"p-new","pet_name":"Rex"}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server, Options{Tokens: staticTokens("token")})
	upload, err := media.Prepare("rex.png", testutil.TinyPNG(t, 16, 16))
	require.NoError(t, err)

	post, err := c.CreatePost(context.Background(), models.CreatePostInput{
		PetName:  "Rex",
		Species:  models.SpeciesDog,
		Latitude: 40.7,
	}, []media.Upload{upload})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/api/v1/posts/", rec.path)
	assert.Equal(t, "Rex", rec.form["pet_name"])
	assert.Equal(t, "dog", rec.form["pet_species"])
	assert.Equal(t, "40.7", rec.form["latitude"])
	assert.Equal(t, "lost", rec.form["status"])
	assert.Equal(t, []string{"rex.jpg"}, rec.files)
	assert.Equal(t, "p-new", post.ID)
}

func TestCreatePost_CustomFilesField(t *testing.T) {
	t.Parallel()

	var fileFields []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(32<<20))
		for field := range r.MultipartForm.File {
			fileFields = append(fileFields, field)
		}
		_, _ = w.Write([]byte(`{"post":{"id":"p-1"}}`))
	}))
	defer server.Close()

	c := newTestClient(t, server, Options{Tokens: staticTokens("token"), FilesField: "images"})
	upload, err := media.Prepare("a.png", testutil.TinyPNG(t, 8, 8))
	require.NoError(t, err)

	_, err = c.CreatePost(context.Background(), models.CreatePostInput{PetName: "A"}, []media.Upload{upload})
	require.NoError(t, err)
	assert.Equal(t, []string{"images"}, fileFields)
}

func TestUpdateProfile_OnlyProvidedFields(t *testing.T) {
	t.Parallel()

	var rec recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(32<<20))
		rec.form = make(map[string]string)
		for key, values := range r.MultipartForm.Value {
			rec.form[key] = values[0]
		}
		_, _ = w.Write([]byte(`{"id":"u-1","name":"Renamed","email":"me@example.com"}`))
	}))
	defer server.Close()

	c := newTestClient(t, server, Options{Tokens: staticTokens("token")})
	name := "Renamed"
	user, err := c.UpdateProfile(context.Background(), models.UpdateProfileInput{Name: &name}, nil)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPatch, rec.method)
	assert.Equal(t, "/api/v1/users/profile", rec.path)
	assert.Equal(t, map[string]string{"name": "Renamed"}, rec.form)
	assert.NotContains(t, rec.form, "phone")
	assert.Equal(t, "Renamed", user.Name)
}

func TestToggleLike(t *testing.T) {
	t.Parallel()

	var rec recordedRequest
	server := httptest.NewServer(recordJSON(t, &rec, http.StatusOK, `{}`))
	defer server.Close()

	c := newTestClient(t, server, Options{Tokens: staticTokens("token")})
	require.NoError(t, c.ToggleLike(context.Background(), "p-42"))

	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/api/v1/posts/p-42/like", rec.path)
}

func TestReportPost(t *testing.T) {
	t.Parallel()

	var rec recordedRequest
	server := httptest.NewServer(recordJSON(t, &rec, http.StatusOK, `{}`))
	defer server.Close()

	c := newTestClient(t, server, Options{Tokens: staticTokens("token")})
	require.NoError(t, c.ReportPost(context.Background(), "p-42", "spam"))

	assert.Equal(t, "/api/v1/posts/p-42/complaint", rec.path)
	assert.Equal(t, "spam", rec.body["complaint"])
}

func TestBlockEndpoints(t *testing.T) {
	t.Parallel()

	var rec recordedRequest
	server := httptest.NewServer(recordJSON(t, &rec, http.StatusOK, `[{"id":"u-2","email":"blocked@example.com"}]`))
	defer server.Close()

	c := newTestClient(t, server, Options{Tokens: staticTokens("token")})

	require.NoError(t, c.BlockUser(context.Background(), "u-2"))
	assert.Equal(t, "/api/v1/users/block/", rec.path)
	assert.Equal(t, "u-2", rec.body["blocked_id"])

	users, err := c.BlockedUsers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, rec.method)
	require.Len(t, users, 1)
	assert.Equal(t, "u-2", users[0].ID)

	require.NoError(t, c.UnblockUser(context.Background(), "u-2"))
	assert.Equal(t, http.MethodDelete, rec.method)
	assert.Equal(t, "/api/v1/users/block/u-2", rec.path)
}

func TestListChats(t *testing.T) {
	t.Parallel()

	var rec recordedRequest
	server := httptest.NewServer(recordJSON(t, &rec, http.StatusOK,
		`[{"id":"c-1","is_group":false,"last_message":"any sign of Rex?","unread_count":3,"participants":[{"id":"u-2","email":"b@c.d","is_online":true}]}]`))
	defer server.Close()

	c := newTestClient(t, server, Options{Tokens: staticTokens("token")})

	chats, err := c.ListChats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, rec.method)
	assert.Equal(t, "/api/v1/chat/chats", rec.path)
	require.Len(t, chats, 1)
	assert.Equal(t, 3, chats[0].UnreadCount)
	require.Len(t, chats[0].Participants, 1)
	assert.True(t, chats[0].Participants[0].IsOnline)
}

func TestChatHistoryAndDelete(t *testing.T) {
	t.Parallel()

	var rec recordedRequest
	server := httptest.NewServer(recordJSON(t, &rec, http.StatusOK,
		`[{"id":"m-1","chat_id":"c-1","content":"any sign of Rex?","sender":{"id":"u-2","email":"b@c.d"}}]`))
	defer server.Close()

	c := newTestClient(t, server, Options{Tokens: staticTokens("token")})

	messages, err := c.ChatHistory(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/messages/chats/c-1/messages", rec.path)
	require.Len(t, messages, 1)
	assert.Equal(t, "any sign of Rex?", messages[0].Content)

	require.NoError(t, c.DeleteChat(context.Background(), "c-1"))
	assert.Equal(t, http.MethodDelete, rec.method)
	assert.Equal(t, "/api/v1/chat/chats/c-1", rec.path)
}

func TestDeleteAccount(t *testing.T) {
	t.Parallel()

	var rec recordedRequest
	server := httptest.NewServer(recordJSON(t, &rec, http.StatusOK, ``))
	defer server.Close()

	c := newTestClient(t, server, Options{Tokens: staticTokens("token")})
	require.NoError(t, c.DeleteAccount(context.Background()))
	assert.Equal(t, http.MethodDelete, rec.method)
	assert.Equal(t, "/api/v1/users/profile", rec.path)
}
