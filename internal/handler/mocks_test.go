package handler_test

import (
	"context"
	"io"
	"log/slog"

	"github.com/sakif/agent-library/internal/auth"
	"github.com/sakif/agent-library/internal/model"
	"github.com/sakif/agent-library/internal/service"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// mockAgentService records the last input of each call and returns the
// configured values.
type mockAgentService struct {
	created   service.CreateInput
	updated   service.UpdateInput
	deletedID string
	deletedBy model.Identity
	listed    service.ListQuery
	adminList bool
	ownerID   string

	agent    *model.AgentFile
	detail   *service.AgentDetail
	list     *service.ListResult
	download *service.Download
	html     string
	count    int
	dash     *service.Dashboard
	err      error
}

func (m *mockAgentService) Create(_ context.Context, in service.CreateInput) (*model.AgentFile, error) {
	m.created = in
	return m.agent, m.err
}

func (m *mockAgentService) Update(_ context.Context, in service.UpdateInput) (*model.AgentFile, error) {
	m.updated = in
	return m.agent, m.err
}

func (m *mockAgentService) Delete(_ context.Context, id string, requester model.Identity) error {
	m.deletedID, m.deletedBy = id, requester
	return m.err
}

func (m *mockAgentService) Get(_ context.Context, _ string) (*service.AgentDetail, error) {
	return m.detail, m.err
}

func (m *mockAgentService) List(_ context.Context, q service.ListQuery) (*service.ListResult, error) {
	m.listed = q
	return m.list, m.err
}

func (m *mockAgentService) AdminList(_ context.Context, q service.ListQuery) (*service.ListResult, error) {
	m.listed, m.adminList = q, true
	return m.list, m.err
}

func (m *mockAgentService) Download(_ context.Context, _ string) (*service.Download, error) {
	return m.download, m.err
}

func (m *mockAgentService) Preview(_ context.Context, _ string) (string, error) {
	return m.html, m.err
}

func (m *mockAgentService) IncrementView(_ context.Context, _ string) (int, error) {
	return m.count, m.err
}

func (m *mockAgentService) IncrementCopy(_ context.Context, _ string) (int, error) {
	return m.count, m.err
}

func (m *mockAgentService) Dashboard(_ context.Context, ownerID string) (*service.Dashboard, error) {
	m.ownerID = ownerID
	return m.dash, m.err
}

type mockReviewService struct {
	upserted  service.UpsertReviewInput
	deletedID string
	deletedBy model.Identity

	result *service.ReviewResult
	stats  model.RatingStats
	err    error
}

func (m *mockReviewService) Upsert(_ context.Context, in service.UpsertReviewInput) (*service.ReviewResult, error) {
	m.upserted = in
	return m.result, m.err
}

func (m *mockReviewService) Delete(_ context.Context, id string, requester model.Identity) (model.RatingStats, error) {
	m.deletedID, m.deletedBy = id, requester
	return m.stats, m.err
}

type mockAuthService struct {
	registered service.RegisterInput
	loginEmail string
	github     *auth.GitHubUser

	result *service.AuthResult
	user   *model.User
	err    error
}

func (m *mockAuthService) Register(_ context.Context, in service.RegisterInput) (*service.AuthResult, error) {
	m.registered = in
	return m.result, m.err
}

func (m *mockAuthService) Login(_ context.Context, email, _ string) (*service.AuthResult, error) {
	m.loginEmail = email
	return m.result, m.err
}

func (m *mockAuthService) Me(_ context.Context, _ string) (*model.User, error) {
	return m.user, m.err
}

func (m *mockAuthService) LoginWithGitHub(_ context.Context, gh *auth.GitHubUser) (*service.AuthResult, error) {
	m.github = gh
	return m.result, m.err
}

type mockGitHub struct {
	user *auth.GitHubUser
	err  error
}

func (m *mockGitHub) AuthURL(state string) string {
	return "https://github.example/authorize?state=" + state
}

func (m *mockGitHub) Exchange(_ context.Context, _ string) (*auth.GitHubUser, error) {
	return m.user, m.err
}
