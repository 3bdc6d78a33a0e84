package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"tailtrail/internal/media"
	"tailtrail/internal/models"
)

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	resp, err := Call[struct {
		Token string `json:"token"`
	}](ctx, c, Request{
		Method: http.MethodPost,
		Path:   "/api/v1/auth/login",
		Body:   map[string]string{"email": email, "password": password},
	})
	if err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Signup registers a new account. The backend answers 201 with no useful
// body; callers log in afterwards to obtain a token.
func (c *Client) Signup(ctx context.Context, email, password, phone string) error {
	return c.Exec(ctx, Request{
		Method: http.MethodPost,
		Path:   "/api/v1/auth/signup",
		Body:   map[string]string{"email": email, "password": password, "phone": phone},
	})
}

// Profile fetches the authenticated user's profile.
func (c *Client) Profile(ctx context.Context) (*models.User, error) {
	user, err := Call[models.User](ctx, c, Request{
		Method:      http.MethodGet,
		Path:        "/api/v1/users/profile",
		RequireAuth: true,
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateProfile sends a multipart PATCH with only the provided fields and an
// optional avatar image.
func (c *Client) UpdateProfile(ctx context.Context, in models.UpdateProfileInput, avatar *media.Upload) (*models.User, error) {
	var uploads []media.Upload
	if avatar != nil {
		uploads = append(uploads, *avatar)
	}
	body, contentType, err := c.buildMultipart(in.FormFields(), uploads)
	if err != nil {
		return nil, models.NewBadResponseError(0, err.Error())
	}
	user, err := Call[models.User](ctx, c, Request{
		Method:      http.MethodPatch,
		Path:        "/api/v1/users/profile",
		Raw:         body,
		ContentType: contentType,
		RequireAuth: true,
		Upload:      true,
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteAccount deletes the authenticated account server-side.
func (c *Client) DeleteAccount(ctx context.Context) error {
	return c.Exec(ctx, Request{
		Method:      http.MethodDelete,
		Path:        "/api/v1/users/profile",
		RequireAuth: true,
	})
}

// ListPosts fetches one page of the feed. Auth is optional: anonymous callers
// see the public view.
func (c *Client) ListPosts(ctx context.Context, page, size int) (*models.PostsPage, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("size", strconv.Itoa(size))
	result, err := Call[models.PostsPage](ctx, c, Request{
		Method: http.MethodGet,
		Path:   "/api/v1/posts/",
		Query:  query,
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CreatePost uploads a new post: scalar fields plus zero or more images.
func (c *Client) CreatePost(ctx context.Context, in models.CreatePostInput, images []media.Upload) (*models.Post, error) {
	body, contentType, err := c.buildMultipart(in.FormFields(), images)
	if err != nil {
		return nil, models.NewBadResponseError(0, err.Error())
	}
	created, err := Call[models.CreatedPost](ctx, c, Request{
		Method:      http.MethodPost,
		Path:        "/api/v1/posts/",
		Raw:         body,
		ContentType: contentType,
		RequireAuth: true,
		Upload:      true,
	})
	if err != nil {
		return nil, err
	}
	return &created.Post, nil
}

// ToggleLike flips the like state of a post for the current user.
func (c *Client) ToggleLike(ctx context.Context, postID string) error {
	return c.Exec(ctx, Request{
		Method:      http.MethodPost,
		Path:        fmt.Sprintf("/api/v1/posts/%s/like", postID),
		RequireAuth: true,
	})
}

// ReportPost files a complaint against a post.
func (c *Client) ReportPost(ctx context.Context, postID, reason string) error {
	return c.Exec(ctx, Request{
		Method:      http.MethodPost,
		Path:        fmt.Sprintf("/api/v1/posts/%s/complaint", postID),
		Body:        map[string]string{"complaint": reason},
		RequireAuth: true,
	})
}

// BlockUser blocks another user.
func (c *Client) BlockUser(ctx context.Context, userID string) error {
	return c.Exec(ctx, Request{
		Method:      http.MethodPost,
		Path:        "/api/v1/users/block/",
		Body:        map[string]string{"blocked_id": userID},
		RequireAuth: true,
	})
}

// BlockedUsers lists the users the current user has blocked.
func (c *Client) BlockedUsers(ctx context.Context) ([]models.User, error) {
	return Call[[]models.User](ctx, c, Request{
		Method:      http.MethodGet,
		Path:        "/api/v1/users/block/",
		RequireAuth: true,
	})
}

// UnblockUser removes a user from the block list.
func (c *Client) UnblockUser(ctx context.Context, userID string) error {
	return c.Exec(ctx, Request{
		Method:      http.MethodDelete,
		Path:        "/api/v1/users/block/" + userID,
		RequireAuth: true,
	})
}

// ListChats fetches the current user's conversation summaries.
func (c *Client) ListChats(ctx context.Context) ([]models.Chat, error) {
	return Call[[]models.Chat](ctx, c, Request{
		Method:      http.MethodGet,
		Path:        "/api/v1/chat/chats",
		RequireAuth: true,
	})
}

// ChatHistory fetches the message history of a conversation.
func (c *Client) ChatHistory(ctx context.Context, chatID string) ([]models.Message, error) {
	return Call[[]models.Message](ctx, c, Request{
		Method:      http.MethodGet,
		Path:        fmt.Sprintf("/api/v1/messages/chats/%s/messages", chatID),
		RequireAuth: true,
	})
}

// DeleteChat deletes a conversation.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.Exec(ctx, Request{
		Method:      http.MethodDelete,
		Path:        "/api/v1/chat/chats/" + chatID,
		RequireAuth: true,
	})
}
