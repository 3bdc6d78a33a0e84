// Package feed maintains the paginated read model over posts: the ordered
// in-memory list, the page cursor, and the optimistic like overlay.
package feed

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tailtrail/internal/media"
	"tailtrail/internal/models"
	"tailtrail/internal/observability"
)

// PostAPI is the slice of the API client the engine needs.
type PostAPI interface {
	ListPosts(ctx context.Context, page, size int) (*models.PostsPage, error)
	ToggleLike(ctx context.Context, postID string) error
	CreatePost(ctx context.Context, in models.CreatePostInput, images []media.Upload) (*models.Post, error)
	ReportPost(ctx context.Context, postID, reason string) error
}

// TokenSource reports whether a session exists.
type TokenSource interface {
	Token() string
}

// SnapshotStore persists the offline feed snapshot.
type SnapshotStore interface {
	ReplaceFeedSnapshot(posts []models.Post) error
	LoadFeedSnapshot() ([]models.Post, error)
}

// Cursor is the pagination position. Page only advances when a fetch returned
// a non-empty page; Exhausted becomes true only on an explicitly empty page.
type Cursor struct {
	Page      int
	Size      int
	Exhausted bool
}

// Options configures an Engine.
type Options struct {
	PageSize  int
	Snapshots SnapshotStore // optional offline cache
	OnChange  func()        // invoked after every observable state change
	Logger    *slog.Logger
}

// Engine is the feed synchronization engine. One instance serves the feed
// screen; all methods are safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	api     PostAPI
	tokens  TokenSource
	snaps   SnapshotStore
	log     *slog.Logger
	posts   []models.Post
	cursor  Cursor
	loading bool
	lastErr error

	// likes is the set of post ids the current user has liked, locally
	// tracked; pending maps a post id to its most recent toggle attempt so an
	// out-of-order acknowledgement can be matched to the toggle it belongs to.
	likes   map[string]struct{}
	pending map[string]string

	onChange func()
}

// NewEngine creates an Engine over the given API slice and session source.
func NewEngine(api PostAPI, tokens TokenSource, opts Options) *Engine {
	if opts.PageSize < 1 {
		opts.PageSize = 10
	}
	if opts.Logger == nil {
		opts.Logger = observability.GlobalLogger.Logger
	}
	return &Engine{
		api:      api,
		tokens:   tokens,
		snaps:    opts.Snapshots,
		log:      opts.Logger,
		cursor:   Cursor{Page: 1, Size: opts.PageSize},
		likes:    make(map[string]struct{}),
		pending:  make(map[string]string),
		onChange: opts.OnChange,
	}
}

// Posts returns a copy of the current list with the local like overlay
// applied.
func (e *Engine) Posts() []models.Post {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.projectLocked(e.posts)
}

// Filtered returns the list filtered by an optional species selector and an
// optional case-insensitive substring match on the pet name. Pure projection,
// recomputed on read.
func (e *Engine) Filtered(species, query string) []models.Post {
	e.mu.Lock()
	defer e.mu.Unlock()

	query = strings.ToLower(strings.TrimSpace(query))
	var out []models.Post
	for _, p := range e.posts {
		if species != "" && p.Species != species {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.PetName), query) {
			continue
		}
		out = append(out, p)
	}
	return e.projectLocked(out)
}

func (e *Engine) projectLocked(posts []models.Post) []models.Post {
	out := make([]models.Post, len(posts))
	copy(out, posts)
	for i := range out {
		_, liked := e.likes[out[i].ID]
		out[i].IsLiked = liked
	}
	return out
}

// Liked reports the local like state of a post.
func (e *Engine) Liked(postID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.likes[postID]
	return ok
}

// Cursor returns the current pagination position.
func (e *Engine) Cursor() Cursor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cursor
}

// Loading reports whether a page fetch is in flight.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loading
}

// LastError returns the error recorded by the most recent failed operation,
// cleared by the next successful one.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Refresh resets the cursor and list, then loads the first page. The first
// page is written to the offline snapshot on success.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	if e.loading {
		e.mu.Unlock()
		return nil
	}
	e.posts = nil
	e.cursor = Cursor{Page: 1, Size: e.cursor.Size}
	e.likes = make(map[string]struct{})
	e.mu.Unlock()
	e.notify()

	err := e.LoadMore(ctx)
	// Without a session LoadMore fetched nothing; keep the prior snapshot
	// instead of replacing it with an empty list.
	if err == nil && e.snaps != nil && e.tokens.Token() != "" {
		e.mu.Lock()
		snapshot := e.projectLocked(e.posts)
		e.mu.Unlock()
		if serr := e.snaps.ReplaceFeedSnapshot(snapshot); serr != nil {
			e.log.Warn("failed to write feed snapshot", slog.String("error", serr.Error()))
		}
	}
	return err
}

// LoadMore fetches the next page. It is a no-op while a fetch is in flight,
// after exhaustion, or without a session. On failure the list and cursor are
// left unchanged so a retry cannot lose or duplicate data.
func (e *Engine) LoadMore(ctx context.Context) error {
	e.mu.Lock()
	if e.loading || e.cursor.Exhausted || e.tokens.Token() == "" {
		e.mu.Unlock()
		return nil
	}
	e.loading = true
	page, size := e.cursor.Page, e.cursor.Size
	e.mu.Unlock()
	e.notify()

	result, err := e.api.ListPosts(ctx, page, size)

	e.mu.Lock()
	e.loading = false
	if err != nil {
		e.lastErr = err
		e.mu.Unlock()
		e.notify()
		return err
	}
	e.lastErr = nil
	if len(result.Posts) == 0 {
		// An explicitly empty page is the sole termination condition; a short
		// page never implies exhaustion.
		e.cursor.Exhausted = true
	} else {
		e.posts = append(e.posts, result.Posts...)
		e.cursor.Page++
		for _, p := range result.Posts {
			if p.IsLiked {
				e.likes[p.ID] = struct{}{}
			}
		}
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

// LoadCached replaces the list with the offline snapshot. Used at startup
// when the device is offline; the next Refresh overwrites it with server
// truth.
func (e *Engine) LoadCached() error {
	if e.snaps == nil {
		return nil
	}
	posts, err := e.snaps.LoadFeedSnapshot()
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.posts = posts
	e.likes = make(map[string]struct{})
	for _, p := range posts {
		if p.IsLiked {
			e.likes[p.ID] = struct{}{}
		}
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

// ToggleLike optimistically flips the post's like state and notifies
// observers immediately, then issues the POST asynchronously. If the call
// fails and no newer toggle has happened since, the flip is reverted. An
// acknowledgement is matched to its own attempt: it never overwrites state
// produced by a more recent toggle.
func (e *Engine) ToggleLike(ctx context.Context, postID string) {
	e.mu.Lock()
	_, wasLiked := e.likes[postID]
	if wasLiked {
		delete(e.likes, postID)
	} else {
		e.likes[postID] = struct{}{}
	}
	attempt := uuid.NewString()
	e.pending[postID] = attempt
	e.mu.Unlock()
	e.notify()

	// The acknowledgement must outlive the caller's context: a dismissed
	// screen should not fake a failed toggle.
	ctx = context.WithoutCancel(ctx)
	go e.settleToggle(ctx, postID, attempt, wasLiked)
}

func (e *Engine) settleToggle(ctx context.Context, postID, attempt string, previous bool) {
	err := e.api.ToggleLike(ctx, postID)

	e.mu.Lock()
	if e.pending[postID] != attempt {
		// Superseded by a newer toggle; that attempt owns the outcome now.
		e.mu.Unlock()
		return
	}
	delete(e.pending, postID)
	if err == nil {
		e.mu.Unlock()
		return
	}
	// Revert to the pre-toggle value.
	if previous {
		e.likes[postID] = struct{}{}
	} else {
		delete(e.likes, postID)
	}
	e.lastErr = err
	e.mu.Unlock()

	observability.LikeRollbacksTotal.Inc()
	e.log.Warn("like toggle reverted",
		slog.String("post_id", postID),
		slog.String("error", err.Error()),
	)
	e.notify()
}

// CreatePost uploads a new post and, on success, performs a full refresh: the
// server is authoritative on generated identity, timestamps, and moderation
// state, so the new post is never inserted manually.
func (e *Engine) CreatePost(ctx context.Context, in models.CreatePostInput, images []media.Upload) error {
	if e.tokens.Token() == "" {
		return models.NewUnauthorizedError("no active session")
	}
	if _, err := e.api.CreatePost(ctx, in, images); err != nil {
		e.mu.Lock()
		e.lastErr = err
		e.mu.Unlock()
		e.notify()
		return err
	}
	return e.Refresh(ctx)
}

// Report files a complaint against a post.
func (e *Engine) Report(ctx context.Context, postID, reason string) error {
	return e.api.ReportPost(ctx, postID, reason)
}

func (e *Engine) notify() {
	if e.onChange != nil {
		e.onChange()
	}
}
