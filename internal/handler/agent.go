package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/sakif/agent-library/internal/apperror"
	"github.com/sakif/agent-library/internal/auth"
	"github.com/sakif/agent-library/internal/model"
	"github.com/sakif/agent-library/internal/service"
)

// DefaultMaxUploadBytes is the upload size limit when none is configured.
const DefaultMaxUploadBytes = 2 << 20

// multipartMemory is how much of a multipart body is kept in memory;
// the rest spills to temporary files.
const multipartMemory = 4 << 20

// formOverheadBytes is the allowance for boundaries and the text fields
// that travel next to the file in one multipart body.
const formOverheadBytes = 64 << 10

// AgentService is what AgentHandler needs from service.AgentService.
type AgentService interface {
	Create(ctx context.Context, in service.CreateInput) (*model.AgentFile, error)
	Update(ctx context.Context, in service.UpdateInput) (*model.AgentFile, error)
	Delete(ctx context.Context, id string, requester model.Identity) error
	Get(ctx context.Context, id string) (*service.AgentDetail, error)
	List(ctx context.Context, q service.ListQuery) (*service.ListResult, error)
	AdminList(ctx context.Context, q service.ListQuery) (*service.ListResult, error)
	Download(ctx context.Context, id string) (*service.Download, error)
	Preview(ctx context.Context, id string) (string, error)
	IncrementView(ctx context.Context, id string) (int, error)
	IncrementCopy(ctx context.Context, id string) (int, error)
	Dashboard(ctx context.Context, ownerID string) (*service.Dashboard, error)
}

// AgentHandler serves /api/agent-files.
type AgentHandler struct {
	agents         AgentService
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewAgentHandler creates an AgentHandler. maxUploadBytes <= 0 means
// DefaultMaxUploadBytes.
func NewAgentHandler(agents AgentService, maxUploadBytes int64, logger *slog.Logger) *AgentHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &AgentHandler{agents: agents, maxUploadBytes: maxUploadBytes, logger: logger}
}

// HandleList returns one page of the library.
//
// HTTP: GET /api/agent-files?q=&tag=&owner=&sort=recent|popular|top&limit=&skip=
func (h *AgentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	res, err := h.agents.List(r.Context(), listQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleAdminList is HandleList for admins (RequireAdmin runs first).
//
// HTTP: GET /api/agent-files/admin
func (h *AgentHandler) HandleAdminList(w http.ResponseWriter, r *http.Request) {
	res, err := h.agents.AdminList(r.Context(), listQuery(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleDashboard returns the caller's upload statistics.
//
// HTTP: GET /api/agent-files/dashboard/me
func (h *AgentHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	dash, err := h.agents.Dashboard(r.Context(), id.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

// HandleGet returns one agent file with its recent reviews.
//
// HTTP: GET /api/agent-files/{id}
func (h *AgentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	detail, err := h.agents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// HandleCreate uploads a new agent file.
//
// HTTP: POST /api/agent-files (multipart/form-data)
// FIELDS: file (required), description, tags (repeatable, comma separated)
func (h *AgentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseForm(w, r)
	if err != nil {
		h.writeFormError(w, err)
		return
	}

	id, _ := auth.IdentityFromContext(r.Context())
	agent, err := h.agents.Create(r.Context(), service.CreateInput{
		File:        form.file,
		Description: form.values.Get("description"),
		Tags:        form.values["tags"],
		OwnerID:     id.ID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

// HandleUpdate patches an agent file.
//
// HTTP: PUT /api/agent-files/{id} (multipart/form-data or urlencoded)
//
// A field that is not in the form is left alone. A field sent empty is
// cleared. A file part replaces the content.
func (h *AgentHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	form, err := h.parseForm(w, r)
	if err != nil {
		h.writeFormError(w, err)
		return
	}

	id, _ := auth.IdentityFromContext(r.Context())
	agent, err := h.agents.Update(r.Context(), service.UpdateInput{
		ID:          r.PathValue("id"),
		Requester:   id,
		File:        form.file,
		Description: stringField(form.values, "description"),
		Tags:        listField(form.values, "tags"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// HandleDelete removes an agent file.
//
// HTTP: DELETE /api/agent-files/{id}
func (h *AgentHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	if err := h.agents.Delete(r.Context(), r.PathValue("id"), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Agent file removed"})
}

// HandleDownload sends the file as an attachment.
//
// HTTP: GET /api/agent-files/{id}/download
func (h *AgentHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	dl, err := h.agents.Download(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename})
	if disposition == "" {
		disposition = `attachment; filename="agent.md"`
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Length", strconv.Itoa(len(dl.Content)))
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, dl.Content); err != nil {
		h.logger.Warn("download interrupted", slog.String("error", err.Error()))
	}
}

// HandlePreview returns the file rendered as sanitized HTML.
//
// HTTP: GET /api/agent-files/{id}/preview
func (h *AgentHandler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	html, err := h.agents.Preview(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"html": html})
}

// HandleView counts a view.
//
// HTTP: POST /api/agent-files/{id}/views → {"views": n}
func (h *AgentHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	n, err := h.agents.IncrementView(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"views": n})
}

// HandleCopy counts a copy to clipboard.
//
// HTTP: POST /api/agent-files/{id}/copies → {"copyCount": n}
func (h *AgentHandler) HandleCopy(w http.ResponseWriter, r *http.Request) {
	n, err := h.agents.IncrementCopy(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"copyCount": n})
}

// =========================================================================
// FORM PARSING
// =========================================================================

// errUploadTooLarge is answered with 413 rather than through writeError.
var errUploadTooLarge = errors.New("upload too large")

type uploadForm struct {
	file   *service.Upload // nil when no file part was sent
	values url.Values
}

// parseForm reads a multipart (or urlencoded) body with the upload limit
// applied. The file part, when present, must look like Markdown.
func (h *AgentHandler) parseForm(w http.ResponseWriter, r *http.Request) (uploadForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+formOverheadBytes)

	err := r.ParseMultipartForm(multipartMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return uploadForm{}, errUploadTooLarge
		}
		return uploadForm{}, apperror.ValidationFailed("body", "Invalid form body")
	}

	form := uploadForm{values: r.PostForm}
	if r.MultipartForm == nil {
		return form, nil
	}

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return form, nil
	}
	if err != nil {
		return uploadForm{}, apperror.ValidationFailed("file", "Invalid file upload")
	}
	defer file.Close()

	if !isMarkdown(header.Filename, header.Header.Get("Content-Type")) {
		return uploadForm{}, apperror.ValidationFailed("file", "Only Markdown (.md) files are allowed")
	}

	content, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		return uploadForm{}, fmt.Errorf("handler/agent: reading upload: %w", err)
	}
	if int64(len(content)) > h.maxUploadBytes {
		return uploadForm{}, errUploadTooLarge
	}

	form.file = &service.Upload{Content: content, Filename: header.Filename}
	return form, nil
}

func (h *AgentHandler) writeFormError(w http.ResponseWriter, err error) {
	if errors.Is(err, errUploadTooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "payload_too_large",
			Message: fmt.Sprintf("File must be %d bytes or smaller", h.maxUploadBytes),
			Field:   "file",
		})
		return
	}
	writeError(w, err)
}

// isMarkdown accepts a .md name or a text/markdown part.
func isMarkdown(filename, contentType string) bool {
	if strings.EqualFold(path.Ext(strings.ReplaceAll(filename, `\`, "/")), ".md") {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/markdown"
}

// stringField turns form presence into a model.Field: absent key, value
// or blank value (cleared).
func stringField(values url.Values, key string) model.Field[string] {
	v, ok := values[key]
	if !ok {
		return model.Field[string]{}
	}
	joined := strings.TrimSpace(strings.Join(v, " "))
	if joined == "" {
		return model.Clear[string]()
	}
	return model.Set(joined)
}

func listField(values url.Values, key string) model.Field[[]string] {
	v, ok := values[key]
	if !ok {
		return model.Field[[]string]{}
	}
	if strings.TrimSpace(strings.Join(v, "")) == "" {
		return model.Clear[[]string]()
	}
	return model.Set(v)
}

func listQuery(r *http.Request) service.ListQuery {
	q := r.URL.Query()
	return service.ListQuery{
		Query: q.Get("q"),
		Tag:   q.Get("tag"),
		Owner: q.Get("owner"),
		Sort:  q.Get("sort"),
		Limit: atoiOrZero(q.Get("limit")),
		Skip:  atoiOrZero(q.Get("skip")),
	}
}

// atoiOrZero parses n; anything unparsable is 0, which the service treats
// as "use the default".
func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
