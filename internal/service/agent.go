// Package service contains the business rules of the agent library.
//
// THE THREE-LAYER ARCHITECTURE:
//
//	Handler (HTTP layer)     → parses requests, writes responses
//	Service (business layer) → validates, enforces ownership, orchestrates
//	Repository (data layer)  → reads/writes the database
//
// Services depend on interfaces (repository.AgentFileRepository, BlobStore,
// MetadataGenerator, ...), never on sqlite or the filesystem directly, so
// the tests in this package run against in-memory fakes.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sakif/agent-library/internal/apperror"
	"github.com/sakif/agent-library/internal/model"
	"github.com/sakif/agent-library/internal/repository"
	"github.com/sakif/agent-library/internal/tags"
)

// Limits on agent file fields and listings.
const (
	MaxTitleLength       = 120
	MaxFilenameLength    = 255
	MaxDescriptionLength = 400

	DefaultListLimit = 20
	MaxListLimit     = 50

	DefaultAdminListLimit = 50
	MaxAdminListLimit     = 100

	// DetailReviewLimit is how many reviews Get returns with a file.
	DetailReviewLimit = 50
)

// BlobStore keeps the uploaded bytes. Paths are relative to the store.
type BlobStore interface {
	Save(content []byte, originalName string) (string, error)
	ReadText(relPath string) (string, error)
	Delete(relPath string) error
}

// MetadataGenerator derives metadata from file content. A nil result with a
// nil error means "nothing found".
type MetadataGenerator interface {
	Generate(ctx context.Context, content string) (*model.Metadata, error)
}

// HTMLRenderer renders Markdown to sanitized HTML.
type HTMLRenderer interface {
	Render(src string) (string, error)
}

// AgentService handles the lifecycle of agent files.
type AgentService struct {
	agents   repository.AgentFileRepository
	reviews  repository.ReviewRepository
	blobs    BlobStore
	metadata MetadataGenerator // nil when no provider is configured
	renderer HTMLRenderer
	logger   *slog.Logger
}

// NewAgentService creates an AgentService. metadata may be nil.
func NewAgentService(
	agents repository.AgentFileRepository,
	reviews repository.ReviewRepository,
	blobs BlobStore,
	metadata MetadataGenerator,
	renderer HTMLRenderer,
	logger *slog.Logger,
) *AgentService {
	return &AgentService{
		agents:   agents,
		reviews:  reviews,
		blobs:    blobs,
		metadata: metadata,
		renderer: renderer,
		logger:   logger,
	}
}

// Upload is a file received from a client.
type Upload struct {
	Content  []byte
	Filename string
}

// CreateInput is the data needed to create an agent file. File is nil when
// the request carried no file.
type CreateInput struct {
	File        *Upload
	Description string
	Tags        []string
	OwnerID     string
}

// UpdateInput patches an agent file. File replaces the content when
// non-nil; Description and Tags follow model.Field semantics.
type UpdateInput struct {
	ID          string
	Requester   model.Identity
	File        *Upload
	Description model.Field[string]
	Tags        model.Field[[]string]
}

// ListQuery are the listing parameters as received from the client.
type ListQuery struct {
	Query string
	Tag   string
	Owner string
	Sort  string
	Limit int
	Skip  int
}

// ListResult is one page of agent files plus the total match count.
type ListResult struct {
	Total  int               `json:"total"`
	Agents []model.AgentFile `json:"agents"`
}

// AgentDetail is an agent file with its most recent reviews.
type AgentDetail struct {
	AgentFile *model.AgentFile `json:"agentFile"`
	Reviews   []model.Review   `json:"reviews"`
}

// Download is the file a client receives from the download endpoint.
type Download struct {
	Filename string
	Content  string
}

// Dashboard is the owner's view of their uploads.
type Dashboard struct {
	Summary model.DashboardSummary `json:"summary"`
	Files   []model.AgentFile      `json:"files"`
}

// Create stores a new agent file.
//
// Description and tags prefer what the metadata generator found over what
// the client sent. A failing generator is logged and treated as "found
// nothing"; it never fails the upload.
func (s *AgentService) Create(ctx context.Context, in CreateInput) (*model.AgentFile, error) {
	if in.File == nil || len(in.File.Content) == 0 {
		return nil, apperror.ValidationFailed("file", "No file uploaded")
	}

	content := string(in.File.Content)
	meta := s.generateMetadata(ctx, content)

	description := in.Description
	requestedTags := in.Tags
	if meta != nil {
		if strings.TrimSpace(meta.Description) != "" {
			description = meta.Description
		}
		if len(meta.Tags) > 0 {
			requestedTags = meta.Tags
		}
	}

	relPath, err := s.blobs.Save(in.File.Content, in.File.Filename)
	if err != nil {
		return nil, apperror.Dependency("saving uploaded file", err)
	}

	name := displayName(in.File.Filename, path.Base(relPath))
	agent := &model.AgentFile{
		Title:            truncate(name, MaxTitleLength),
		OriginalFilename: name,
		Description:      cleanDescription(description),
		Tags:             tags.Normalize(requestedTags),
		FilePath:         relPath,
		Content:          content,
		OwnerID:          in.OwnerID,
	}

	if err := s.agents.Create(ctx, agent); err != nil {
		s.deleteBlob(relPath)
		return nil, fmt.Errorf("service/agent: creating agent file: %w", err)
	}

	s.logger.Info("agent file uploaded",
		slog.String("id", agent.ID),
		slog.String("owner", agent.OwnerID),
		slog.String("filename", agent.OriginalFilename),
	)

	return s.reload(ctx, agent.ID)
}

// Update patches an agent file the requester owns (or any file, for
// admins). Existence is checked before ownership, so strangers can still
// tell a missing id from a forbidden one.
//
// When the database write fails after a replacement file was saved, the
// new blob stays on disk unreferenced.
func (s *AgentService) Update(ctx context.Context, in UpdateInput) (*model.AgentFile, error) {
	agent, err := s.agents.GetByID(ctx, in.ID)
	if err != nil {
		return nil, fmt.Errorf("service/agent: loading %s: %w", in.ID, err)
	}

	if !in.Requester.CanModify(agent.OwnerID) {
		return nil, apperror.Forbidden("You can only modify your own uploads")
	}

	previousPath := ""
	if in.File != nil {
		if len(in.File.Content) == 0 {
			return nil, apperror.ValidationFailed("file", "Uploaded file is empty")
		}

		relPath, err := s.blobs.Save(in.File.Content, in.File.Filename)
		if err != nil {
			return nil, apperror.Dependency("saving replacement file", err)
		}

		name := displayName(in.File.Filename, path.Base(relPath))
		previousPath = agent.FilePath
		agent.FilePath = relPath
		agent.Content = string(in.File.Content)
		agent.OriginalFilename = name
		agent.Title = truncate(name, MaxTitleLength)
	}

	switch in.Description.State {
	case model.FieldSet:
		agent.Description = cleanDescription(in.Description.Value)
	case model.FieldCleared:
		agent.Description = ""
	}

	switch in.Tags.State {
	case model.FieldSet:
		agent.Tags = tags.Normalize(in.Tags.Value)
	case model.FieldCleared:
		agent.Tags = []string{}
	}

	if agent.OriginalFilename == "" {
		agent.OriginalFilename = truncate(agent.Title, MaxFilenameLength)
	}

	if err := s.agents.Update(ctx, agent); err != nil {
		return nil, fmt.Errorf("service/agent: updating %s: %w", in.ID, err)
	}

	updated, err := s.reload(ctx, agent.ID)
	if err != nil {
		return nil, err
	}

	if previousPath != "" && previousPath != updated.FilePath {
		s.deleteBlob(previousPath)
	}

	return updated, nil
}

// Delete removes an agent file and its reviews. A blob that cannot be
// removed is logged; the record is deleted anyway.
func (s *AgentService) Delete(ctx context.Context, id string, requester model.Identity) error {
	agent, err := s.agents.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("service/agent: loading %s: %w", id, err)
	}

	if !requester.CanModify(agent.OwnerID) {
		return apperror.Forbidden("You can only delete your own uploads")
	}

	s.deleteBlob(agent.FilePath)

	if err := s.agents.Delete(ctx, id); err != nil {
		return fmt.Errorf("service/agent: deleting %s: %w", id, err)
	}

	s.logger.Info("agent file deleted",
		slog.String("id", id),
		slog.String("by", requester.ID),
	)
	return nil
}

// Get returns an agent file with its most recent reviews.
func (s *AgentService) Get(ctx context.Context, id string) (*AgentDetail, error) {
	agent, err := s.agents.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/agent: getting %s: %w", id, err)
	}

	reviews, err := s.reviews.ListByAgent(ctx, id, DetailReviewLimit)
	if err != nil {
		return nil, fmt.Errorf("service/agent: listing reviews of %s: %w", id, err)
	}

	return &AgentDetail{AgentFile: agent, Reviews: reviews}, nil
}

// List returns one page of the public library.
func (s *AgentService) List(ctx context.Context, q ListQuery) (*ListResult, error) {
	opts := repository.ListOptions{
		Sort:   parseSort(q.Sort),
		Limit:  clampLimit(q.Limit, DefaultListLimit, MaxListLimit),
		Offset: max(q.Skip, 0),
	}
	return s.list(ctx, q, opts)
}

// AdminList is List for moderators: always newest first, larger pages.
func (s *AgentService) AdminList(ctx context.Context, q ListQuery) (*ListResult, error) {
	opts := repository.ListOptions{
		Sort:   repository.SortRecent,
		Limit:  clampLimit(q.Limit, DefaultAdminListLimit, MaxAdminListLimit),
		Offset: max(q.Skip, 0),
	}
	return s.list(ctx, q, opts)
}

func (s *AgentService) list(ctx context.Context, q ListQuery, opts repository.ListOptions) (*ListResult, error) {
	filter := repository.AgentFilter{
		Query:   strings.TrimSpace(q.Query),
		Tag:     strings.ToLower(strings.TrimSpace(q.Tag)),
		OwnerID: strings.TrimSpace(q.Owner),
	}

	agents, err := s.agents.List(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("service/agent: listing: %w", err)
	}

	total, err := s.agents.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("service/agent: counting: %w", err)
	}

	return &ListResult{Total: total, Agents: agents}, nil
}

// Download returns the stored file. When the blob cannot be read the copy
// kept in the database is served instead.
func (s *AgentService) Download(ctx context.Context, id string) (*Download, error) {
	agent, err := s.agents.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/agent: getting %s: %w", id, err)
	}

	content, err := s.blobs.ReadText(agent.FilePath)
	if err != nil {
		s.logger.Warn("serving database copy of agent file",
			slog.String("id", id),
			slog.String("path", agent.FilePath),
			slog.String("error", err.Error()),
		)
		content = agent.Content
	}

	filename := agent.OriginalFilename
	if filename == "" {
		filename = path.Base(agent.FilePath)
	}

	return &Download{Filename: filename, Content: content}, nil
}

// Preview renders the file's Markdown as sanitized HTML.
func (s *AgentService) Preview(ctx context.Context, id string) (string, error) {
	agent, err := s.agents.GetByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("service/agent: getting %s: %w", id, err)
	}

	html, err := s.renderer.Render(agent.Content)
	if err != nil {
		return "", fmt.Errorf("service/agent: rendering %s: %w", id, err)
	}
	return html, nil
}

// IncrementView adds one view and returns the new count.
func (s *AgentService) IncrementView(ctx context.Context, id string) (int, error) {
	n, err := s.agents.IncrementViews(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("service/agent: counting view of %s: %w", id, err)
	}
	return n, nil
}

// IncrementCopy adds one copy and returns the new count.
func (s *AgentService) IncrementCopy(ctx context.Context, id string) (int, error) {
	n, err := s.agents.IncrementCopies(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("service/agent: counting copy of %s: %w", id, err)
	}
	return n, nil
}

// Dashboard summarises the uploads of ownerID, newest first.
func (s *AgentService) Dashboard(ctx context.Context, ownerID string) (*Dashboard, error) {
	files, err := s.agents.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("service/agent: listing files of %s: %w", ownerID, err)
	}

	var summary model.DashboardSummary
	ratingSum := 0.0
	for _, f := range files {
		summary.TotalFiles++
		summary.TotalViews += f.Views
		summary.TotalCopies += f.CopyCount
		ratingSum += f.RatingAverage
	}
	if summary.TotalFiles > 0 {
		summary.AverageRating = round2(ratingSum / float64(summary.TotalFiles))
	}

	return &Dashboard{Summary: summary, Files: files}, nil
}

func (s *AgentService) reload(ctx context.Context, id string) (*model.AgentFile, error) {
	agent, err := s.agents.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service/agent: reloading %s: %w", id, err)
	}
	return agent, nil
}

func (s *AgentService) generateMetadata(ctx context.Context, content string) *model.Metadata {
	if s.metadata == nil {
		return nil
	}
	meta, err := s.metadata.Generate(ctx, content)
	if err != nil {
		s.logger.Warn("metadata generation failed", slog.String("error", err.Error()))
		return nil
	}
	return meta
}

func (s *AgentService) deleteBlob(relPath string) {
	if relPath == "" {
		return
	}
	if err := s.blobs.Delete(relPath); err != nil {
		s.logger.Warn("failed to delete agent file blob",
			slog.String("path", relPath),
			slog.String("error", err.Error()),
		)
	}
}

// displayName is the client's filename without directories or control
// characters, capped at MaxFilenameLength. fallback is used when nothing
// is left.
func displayName(uploaded, fallback string) string {
	name := uploaded[strings.LastIndexAny(uploaded, `/\`)+1:]
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = truncate(strings.TrimSpace(name), MaxFilenameLength)
	if name == "" {
		return truncate(fallback, MaxFilenameLength)
	}
	return name
}

// cleanDescription trims, caps at MaxDescriptionLength and trims again (the
// cut may leave trailing space).
func cleanDescription(s string) string {
	return strings.TrimSpace(truncate(strings.TrimSpace(s), MaxDescriptionLength))
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func parseSort(s string) repository.SortOrder {
	switch repository.SortOrder(strings.ToLower(strings.TrimSpace(s))) {
	case repository.SortPopular:
		return repository.SortPopular
	case repository.SortTop:
		return repository.SortTop
	default:
		return repository.SortRecent
	}
}

func clampLimit(limit, def, maxLimit int) int {
	if limit <= 0 {
		return def
	}
	return min(limit, maxLimit)
}

// round2 rounds to two decimals, the precision ratings are shown with.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
