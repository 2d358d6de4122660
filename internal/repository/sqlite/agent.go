package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/agent-library/internal/apperror"
	"github.com/sakif/agent-library/internal/model"
	"github.com/sakif/agent-library/internal/repository"
)

// COMPILE-TIME INTERFACE CHECK:
// If *AgentDB stops satisfying repository.AgentFileRepository the build
// breaks here instead of at the composition root.
var _ repository.AgentFileRepository = (*AgentDB)(nil)

// AgentDB is the agent_files table. It shares the connection pool of the
// DB it came from.
type AgentDB struct {
	conn *sql.DB
}

// Agents returns the agent file repository.
func (db *DB) Agents() *AgentDB {
	return &AgentDB{conn: db.conn}
}

// agentColumns is the SELECT list shared by every read. The owner's display
// fields come from a join so callers always get a populated Owner.
const agentColumns = `
	a.id, a.title, a.original_filename, a.description, a.tags, a.file_path, a.content,
	a.owner_id, a.views, a.copy_count, a.rating_average, a.rating_count,
	a.created_at, a.updated_at,
	COALESCE(u.username, ''), COALESCE(u.avatar_hue, 0)`

const agentFrom = `
	FROM agent_files a
	LEFT JOIN users u ON u.id = a.owner_id`

// rowScanner is satisfied by both *sql.Row and *sql.Rows, so one scan
// function serves single-row and multi-row queries.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*model.AgentFile, error) {
	var (
		a        model.AgentFile
		tagsJSON string
		owner    model.UserSummary
	)

	if err := row.Scan(
		&a.ID, &a.Title, &a.OriginalFilename, &a.Description, &tagsJSON, &a.FilePath, &a.Content,
		&a.OwnerID, &a.Views, &a.CopyCount, &a.RatingAverage, &a.RatingCount,
		&a.CreatedAt, &a.UpdatedAt,
		&owner.Username, &owner.AvatarHue,
	); err != nil {
		return nil, err
	}

	a.Tags = []string{}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &a.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags of %s: %w", a.ID, err)
		}
	}

	owner.ID = a.OwnerID
	a.Owner = &owner

	return &a, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Create inserts a new agent file. The ID, timestamps and zeroed counters
// are set here; whatever the caller put in Views/CopyCount/Rating* is
// ignored.
func (s *AgentDB) Create(ctx context.Context, agent *model.AgentFile) error {
	agent.ID = xid.New().String()

	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	agent.Views = 0
	agent.CopyCount = 0
	agent.RatingAverage = 0
	agent.RatingCount = 0

	tagsJSON, err := encodeTags(agent.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: encoding tags: %w", err)
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO agent_files
			(id, title, original_filename, description, tags, file_path, content, owner_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		agent.ID,
		agent.Title,
		agent.OriginalFilename,
		agent.Description,
		tagsJSON,
		agent.FilePath,
		agent.Content,
		agent.OwnerID,
		agent.CreatedAt,
		agent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating agent file: %w", err)
	}

	return nil
}

// GetByID retrieves one agent file with its owner summary.
func (s *AgentDB) GetByID(ctx context.Context, id string) (*model.AgentFile, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+agentColumns+agentFrom+` WHERE a.id = ?`, id)

	agent, err := scanAgent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("agent file", id)
		}
		return nil, fmt.Errorf("sqlite: getting agent file %s: %w", id, err)
	}

	return agent, nil
}

// escapeLike escapes LIKE wildcards so a search for "50%" matches the
// literal text. Used together with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// whereClause turns a filter into a WHERE fragment plus its arguments.
//
// TEXT SEARCH:
// q matches case-insensitively as a substring of title, description,
// content or the tags array. SQLite's LIKE is case-insensitive for ASCII.
//
// TAG FILTER:
// Tags are stored as a JSON array, so json_each() expands them into rows
// and EXISTS checks for an exact match.
func whereClause(filter repository.AgentFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		conds = append(conds, `(a.title LIKE ? ESCAPE '\' OR a.description LIKE ? ESCAPE '\'
			OR a.content LIKE ? ESCAPE '\' OR a.tags LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern, pattern)
	}

	if tag := strings.TrimSpace(filter.Tag); tag != "" {
		conds = append(conds, `EXISTS (SELECT 1 FROM json_each(a.tags) WHERE json_each.value = ?)`)
		args = append(args, strings.ToLower(tag))
	}

	if filter.OwnerID != "" {
		conds = append(conds, `a.owner_id = ?`)
		args = append(args, filter.OwnerID)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderClause(sort repository.SortOrder) string {
	switch sort {
	case repository.SortPopular:
		return ` ORDER BY a.views DESC, a.created_at DESC, a.id DESC`
	case repository.SortTop:
		return ` ORDER BY a.rating_average DESC, a.rating_count DESC, a.created_at DESC, a.id DESC`
	default:
		return ` ORDER BY a.created_at DESC, a.id DESC`
	}
}

func (s *AgentDB) queryAgents(ctx context.Context, query string, args ...any) ([]model.AgentFile, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := []model.AgentFile{}
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent file row: %w", err)
		}
		agents = append(agents, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent files: %w", err)
	}

	return agents, nil
}

// List returns one page of agent files matching filter.
func (s *AgentDB) List(ctx context.Context, filter repository.AgentFilter, opts repository.ListOptions) ([]model.AgentFile, error) {
	where, args := whereClause(filter)

	limit := opts.Limit
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means "no limit"
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit, offset)

	agents, err := s.queryAgents(ctx,
		`SELECT `+agentColumns+agentFrom+where+orderClause(opts.Sort)+` LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing agent files: %w", err)
	}
	return agents, nil
}

// Count returns how many agent files match filter, ignoring paging.
func (s *AgentDB) Count(ctx context.Context, filter repository.AgentFilter) (int, error) {
	where, args := whereClause(filter)

	var n int
	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agent_files a`+where, args...,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting agent files: %w", err)
	}
	return n, nil
}

// ListByOwner returns every file owned by ownerID, newest first.
func (s *AgentDB) ListByOwner(ctx context.Context, ownerID string) ([]model.AgentFile, error) {
	return s.List(ctx, repository.AgentFilter{OwnerID: ownerID}, repository.ListOptions{Sort: repository.SortRecent})
}

// Update writes the content fields of an existing agent file.
//
// views, copy_count, rating_* and owner_id are NOT in the SET list: a stale
// struct must never roll back a counter another request incremented in the
// meantime.
func (s *AgentDB) Update(ctx context.Context, agent *model.AgentFile) error {
	agent.UpdatedAt = time.Now().UTC()

	tagsJSON, err := encodeTags(agent.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: encoding tags: %w", err)
	}

	result, err := s.conn.ExecContext(ctx,
		`UPDATE agent_files
		 SET title = ?, original_filename = ?, description = ?, tags = ?,
		     file_path = ?, content = ?, updated_at = ?
		 WHERE id = ?`,
		agent.Title,
		agent.OriginalFilename,
		agent.Description,
		tagsJSON,
		agent.FilePath,
		agent.Content,
		agent.UpdatedAt,
		agent.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating agent file %s: %w", agent.ID, err)
	}

	return requireAffected(result, "agent file", agent.ID)
}

// Delete removes an agent file. Its reviews go with it (ON DELETE CASCADE).
func (s *AgentDB) Delete(ctx context.Context, id string) error {
	result, err := s.conn.ExecContext(ctx, `DELETE FROM agent_files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting agent file %s: %w", id, err)
	}
	return requireAffected(result, "agent file", id)
}

// increment bumps one counter column and returns its new value.
//
// ATOMICITY:
// UPDATE ... SET n = n + 1 ... RETURNING n is a single statement, so SQLite
// applies it under its write lock. Two concurrent requests can never both
// read 5 and both write 6, which a "SELECT then UPDATE" pair done from Go
// would allow.
func (s *AgentDB) increment(ctx context.Context, id, column string) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE agent_files SET %[1]s = %[1]s + 1 WHERE id = ? RETURNING %[1]s`, column),
		id,
	).Scan(&n)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, apperror.NotFound("agent file", id)
		}
		return 0, fmt.Errorf("sqlite: incrementing %s of %s: %w", column, id, err)
	}
	return n, nil
}

// IncrementViews adds one to the view counter.
func (s *AgentDB) IncrementViews(ctx context.Context, id string) (int, error) {
	return s.increment(ctx, id, "views")
}

// IncrementCopies adds one to the copy counter.
func (s *AgentDB) IncrementCopies(ctx context.Context, id string) (int, error) {
	return s.increment(ctx, id, "copy_count")
}

// SetRating overwrites the derived rating fields.
func (s *AgentDB) SetRating(ctx context.Context, id string, stats model.RatingStats) error {
	result, err := s.conn.ExecContext(ctx,
		`UPDATE agent_files SET rating_average = ?, rating_count = ? WHERE id = ?`,
		stats.RatingAverage, stats.RatingCount, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting rating of %s: %w", id, err)
	}
	return requireAffected(result, "agent file", id)
}

// Sample returns up to n agent files picked uniformly at random.
func (s *AgentDB) Sample(ctx context.Context, n int) ([]model.AgentFile, error) {
	agents, err := s.queryAgents(ctx,
		`SELECT `+agentColumns+agentFrom+` ORDER BY RANDOM() LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite: sampling agent files: %w", err)
	}
	return agents, nil
}

// requireAffected turns "zero rows affected" into a NotFound error.
func requireAffected(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
