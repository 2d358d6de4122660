package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sakif/agent-library/internal/apperror"
	"github.com/sakif/agent-library/internal/model"
	"github.com/sakif/agent-library/internal/repository"
)

// =========================================================================
// FAKES
// =========================================================================
//
// Hand-written in-memory implementations of the repository and collaborator
// interfaces. Each one stores copies, never the caller's pointers, so a test
// can't accidentally mutate "the database" through a returned struct.

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeAgentRepo struct {
	mu      sync.Mutex
	agents  map[string]*model.AgentFile
	nextID  int
	seq     int
	samples int // how many times Sample was called

	createErr error
	updateErr error
}

func newFakeAgentRepo() *fakeAgentRepo {
	return &fakeAgentRepo{agents: make(map[string]*model.AgentFile)}
}

func (f *fakeAgentRepo) Create(_ context.Context, agent *model.AgentFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	f.seq++
	agent.ID = fmt.Sprintf("agent-%d", f.nextID)
	agent.CreatedAt = time.Unix(int64(f.seq), 0).UTC()
	agent.UpdatedAt = agent.CreatedAt
	agent.Views, agent.CopyCount, agent.RatingAverage, agent.RatingCount = 0, 0, 0, 0
	stored := *agent
	stored.Tags = append([]string{}, agent.Tags...)
	f.agents[agent.ID] = &stored
	return nil
}

func (f *fakeAgentRepo) GetByID(_ context.Context, id string) (*model.AgentFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return nil, apperror.NotFound("agent file", id)
	}
	out := *a
	out.Tags = append([]string{}, a.Tags...)
	out.Owner = &model.UserSummary{ID: a.OwnerID, Username: "user-" + a.OwnerID}
	return &out, nil
}

func (f *fakeAgentRepo) matching(filter repository.AgentFilter) []model.AgentFile {
	var out []model.AgentFile
	for _, a := range f.agents {
		if filter.OwnerID != "" && a.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Tag != "" && !contains(a.Tags, filter.Tag) {
			continue
		}
		if filter.Query != "" && !strings.Contains(strings.ToLower(a.Title+" "+a.Description+" "+a.Content), strings.ToLower(filter.Query)) {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *fakeAgentRepo) List(_ context.Context, filter repository.AgentFilter, opts repository.ListOptions) ([]model.AgentFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.matching(filter)
	if opts.Offset >= len(out) {
		return []model.AgentFile{}, nil
	}
	out = out[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeAgentRepo) Count(_ context.Context, filter repository.AgentFilter) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.matching(filter)), nil
}

func (f *fakeAgentRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.AgentFile, error) {
	return f.List(ctx, repository.AgentFilter{OwnerID: ownerID}, repository.ListOptions{})
}

func (f *fakeAgentRepo) Update(_ context.Context, agent *model.AgentFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	stored, ok := f.agents[agent.ID]
	if !ok {
		return apperror.NotFound("agent file", agent.ID)
	}
	stored.Title = agent.Title
	stored.OriginalFilename = agent.OriginalFilename
	stored.Description = agent.Description
	stored.Tags = append([]string{}, agent.Tags...)
	stored.FilePath = agent.FilePath
	stored.Content = agent.Content
	return nil
}

func (f *fakeAgentRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.agents[id]; !ok {
		return apperror.NotFound("agent file", id)
	}
	delete(f.agents, id)
	return nil
}

func (f *fakeAgentRepo) increment(id string, field func(*model.AgentFile) *int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return 0, apperror.NotFound("agent file", id)
	}
	p := field(a)
	*p++
	return *p, nil
}

func (f *fakeAgentRepo) IncrementViews(_ context.Context, id string) (int, error) {
	return f.increment(id, func(a *model.AgentFile) *int { return &a.Views })
}

func (f *fakeAgentRepo) IncrementCopies(_ context.Context, id string) (int, error) {
	return f.increment(id, func(a *model.AgentFile) *int { return &a.CopyCount })
}

func (f *fakeAgentRepo) SetRating(_ context.Context, id string, stats model.RatingStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[id]
	if !ok {
		return apperror.NotFound("agent file", id)
	}
	a.RatingAverage = stats.RatingAverage
	a.RatingCount = stats.RatingCount
	return nil
}

func (f *fakeAgentRepo) Sample(_ context.Context, n int) ([]model.AgentFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples++
	all := make([]model.AgentFile, 0, len(f.agents))
	for _, a := range f.agents {
		all = append(all, *a)
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	if n < len(all) {
		all = all[:n]
	}
	return all, nil
}

// put stores a ready-made record, bypassing Create.
func (f *fakeAgentRepo) put(a model.AgentFile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Unix(int64(f.seq), 0).UTC()
	}
	f.agents[a.ID] = &a
}

func (f *fakeAgentRepo) stored(id string) model.AgentFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.agents[id]
}

type fakeReviewRepo struct {
	mu      sync.Mutex
	reviews map[string]*model.Review
	nextID  int
}

func newFakeReviewRepo() *fakeReviewRepo {
	return &fakeReviewRepo{reviews: make(map[string]*model.Review)}
}

func (f *fakeReviewRepo) Upsert(_ context.Context, review *model.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reviews {
		if r.AgentFileID == review.AgentFileID && r.UserID == review.UserID {
			r.Rating = review.Rating
			r.Comment = review.Comment
			review.ID = r.ID
			review.CreatedAt = r.CreatedAt
			return nil
		}
	}
	f.nextID++
	review.ID = fmt.Sprintf("review-%d", f.nextID)
	review.CreatedAt = time.Unix(int64(f.nextID), 0).UTC()
	stored := *review
	f.reviews[review.ID] = &stored
	return nil
}

func (f *fakeReviewRepo) GetByID(_ context.Context, id string) (*model.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reviews[id]
	if !ok {
		return nil, apperror.NotFound("review", id)
	}
	out := *r
	out.User = &model.UserSummary{ID: r.UserID, Username: "user-" + r.UserID}
	return &out, nil
}

func (f *fakeReviewRepo) ListByAgent(_ context.Context, agentID string, limit int) ([]model.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []model.Review{}
	for _, r := range f.reviews {
		if r.AgentFileID == agentID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeReviewRepo) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reviews[id]; !ok {
		return apperror.NotFound("review", id)
	}
	delete(f.reviews, id)
	return nil
}

func (f *fakeReviewRepo) Ratings(_ context.Context, agentID string) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []int{}
	for _, r := range f.reviews {
		if r.AgentFileID == agentID {
			out = append(out, r.Rating)
		}
	}
	return out, nil
}

func (f *fakeReviewRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reviews)
}

type fakeUserRepo struct {
	users  map[string]*model.User
	nextID int

	getErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	for _, u := range f.users {
		if u.Username == user.Username || u.Email == strings.ToLower(user.Email) {
			return apperror.Conflict("username or email already in use")
		}
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	user.Email = strings.ToLower(user.Email)
	if user.Role == "" {
		user.Role = model.RoleUser
	}
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) find(match func(*model.User) bool, what string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, u := range f.users {
		if match(u) {
			out := *u
			return &out, nil
		}
	}
	return nil, apperror.NotFound("user", what)
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.ID == id }, id)
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	return f.find(func(u *model.User) bool { return u.Email == email }, email)
}

func (f *fakeUserRepo) GetByGitHubID(_ context.Context, githubID int64) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.GitHubID != nil && *u.GitHubID == githubID }, fmt.Sprint(githubID))
}

func (f *fakeUserRepo) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	email = strings.ToLower(email)
	for _, u := range f.users {
		if u.Username == username || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUserRepo) LinkGitHub(_ context.Context, userID string, githubID int64) error {
	u, ok := f.users[userID]
	if !ok {
		return apperror.NotFound("user", userID)
	}
	u.GitHubID = &githubID
	return nil
}

func (f *fakeUserRepo) SetRoleByEmail(_ context.Context, email string, role model.Role) error {
	for _, u := range f.users {
		if u.Email == strings.ToLower(email) {
			u.Role = role
		}
	}
	return nil
}

type fakeBlobStore struct {
	mu      sync.Mutex
	blobs   map[string]string
	nextID  int
	deleted []string

	saveErr   error
	readErr   error
	deleteErr error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: make(map[string]string)}
}

func (f *fakeBlobStore) Save(content []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.nextID++
	p := fmt.Sprintf("blob-%d.md", f.nextID)
	f.blobs[p] = string(content)
	return p, nil
}

func (f *fakeBlobStore) ReadText(relPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return "", f.readErr
	}
	text, ok := f.blobs[relPath]
	if !ok {
		return "", errors.New("no such blob")
	}
	return text, nil
}

func (f *fakeBlobStore) Delete(relPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, relPath)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.blobs, relPath)
	return nil
}

func (f *fakeBlobStore) has(relPath string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.blobs[relPath]
	return ok
}

type fakeMetadata struct {
	meta  *model.Metadata
	err   error
	calls int
}

func (f *fakeMetadata) Generate(_ context.Context, _ string) (*model.Metadata, error) {
	f.calls++
	return f.meta, f.err
}

type fakeRenderer struct{}

func (fakeRenderer) Render(src string) (string, error) {
	return "<p>" + src + "</p>", nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
