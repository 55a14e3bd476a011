package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"queryhub/internal/artifact"
	"queryhub/internal/runs"
)

// Store implements runs.Store and runs.UserStore on Postgres.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store { return &Store{db: pool} }

var (
	_ runs.Store     = (*Store)(nil)
	_ runs.UserStore = (*Store)(nil)
)

const runColumns = `r.id, r.conversation_id, c.user_id, r.user_input, r.status, r.final_output, r.response_digest, r.started_at, r.heartbeat_at, r.completed_at`

func (s *Store) CreateConversation(ctx context.Context, c runs.Conversation) error {
	_, err := s.db.Exec(ctx, `
		insert into conversations (id, user_id, title, created_at)
		values ($1, $2, $3, $4)
	`, c.ID, c.UserID, c.Title, c.CreatedAt)
	return mapErr(err)
}

func (s *Store) GetConversation(ctx context.Context, id uuid.UUID) (runs.Conversation, error) {
	var c runs.Conversation
	err := s.db.QueryRow(ctx, `
		select id, user_id, title, created_at
		from conversations
		where id = $1
	`, id).Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt)
	if err != nil {
		return runs.Conversation{}, mapErr(err)
	}
	return c, nil
}

func (s *Store) ListConversations(ctx context.Context, f runs.ConversationFilter) ([]runs.Conversation, error) {
	rows, err := s.db.Query(ctx, `
		select id, user_id, title, created_at
		from conversations
		where ($1::uuid is null or user_id = $1)
		order by created_at desc, id
		limit nullif($2::int, 0) offset $3
	`, f.UserID, f.Limit, max(f.Offset, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []runs.Conversation{}
	for rows.Next() {
		var c runs.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) DeleteConversation(ctx context.Context, id uuid.UUID) ([]string, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	keys, err := collectKeys(ctx, tx, `
		select f.storage_key
		from run_input_files f
		join runs r on r.id = f.run_id
		where r.conversation_id = $1
	`, id)
	if err != nil {
		return nil, err
	}
	tag, err := tx.Exec(ctx, `delete from conversations where id = $1`, id)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, runs.ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) CountConversationsSince(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		select count(*) from conversations where user_id = $1 and created_at > $2
	`, userID, since).Scan(&n)
	return n, err
}

func (s *Store) CreateRun(ctx context.Context, run runs.Run, files []runs.InputFile) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		insert into runs (id, conversation_id, user_input, status, started_at, heartbeat_at)
		values ($1, $2, $3, $4, $5, $5)
	`, run.ID, run.ConversationID, run.UserInput, string(run.Status), run.StartedAt); err != nil {
		return mapErr(err)
	}
	for _, f := range files {
		if _, err := tx.Exec(ctx, `
			insert into run_input_files (id, run_id, name, storage_key, file_type, content_type, description, size_bytes, created_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, f.ID, run.ID, f.Name, f.StorageKey, string(f.FileType), f.ContentType, f.Description, f.Size, f.CreatedAt); err != nil {
			return fmt.Errorf("insert input file: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (runs.Run, error) {
	row := s.db.QueryRow(ctx, `
		select `+runColumns+`
		from runs r
		left join conversations c on c.id = r.conversation_id
		where r.id = $1
	`, id)
	run, err := scanRun(row)
	if err != nil {
		return runs.Run{}, mapErr(err)
	}
	list := []runs.Run{run}
	if err := s.hydrate(ctx, list); err != nil {
		return runs.Run{}, err
	}
	return list[0], nil
}

func (s *Store) ListRuns(ctx context.Context, f runs.RunFilter) ([]runs.Run, error) {
	rows, err := s.db.Query(ctx, `
		select `+runColumns+`
		from runs r
		left join conversations c on c.id = r.conversation_id
		where ($1::uuid is null or c.user_id = $1)
		  and ($2::uuid is null or r.conversation_id = $2)
		order by r.started_at desc, r.id
		limit nullif($3::int, 0) offset $4
	`, f.OwnerID, f.ConversationID, f.Limit, max(f.Offset, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []runs.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteRun(ctx context.Context, id uuid.UUID) ([]string, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	keys, err := collectKeys(ctx, tx, `select storage_key from run_input_files where run_id = $1`, id)
	if err != nil {
		return nil, err
	}
	tag, err := tx.Exec(ctx, `delete from runs where id = $1`, id)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, runs.ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) CountRunsSince(ctx context.Context, conversationID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		select count(*) from runs where conversation_id = $1 and started_at > $2
	`, conversationID, since).Scan(&n)
	return n, err
}

func (s *Store) MarkRunning(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		update runs set status = 'running', heartbeat_at = $2
		where id = $1 and status = 'pending'
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return transitionMiss(ctx, s.db, id)
	}
	return nil
}

// CompleteRun writes the status, output and artifacts in one transaction.
func (s *Store) CompleteRun(ctx context.Context, id uuid.UUID, output, digest string, drafts []artifact.Draft, at time.Time) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		update runs
		set status = 'completed', final_output = $2, response_digest = $3, completed_at = $4
		where id = $1 and status = 'running'
	`, id, output, digest, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return transitionMiss(ctx, tx, id)
	}

	for i, d := range drafts {
		if _, err := tx.Exec(ctx, `
			insert into run_output_artifacts (id, run_id, position, artifact_type, title, data, created_at)
			values ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New(), id, i, string(d.Type), d.Title, d.Data, at); err != nil {
			return fmt.Errorf("insert artifact %d: %w", i, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) FailRun(ctx context.Context, id uuid.UUID, output string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		update runs
		set status = 'failed', final_output = $2, completed_at = $3
		where id = $1 and status in ('pending', 'running')
	`, id, output, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return transitionMiss(ctx, s.db, id)
	}
	return nil
}

// TouchRuns refreshes heartbeat_at on the unfinished runs among ids.
func (s *Store) TouchRuns(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `
		update runs set heartbeat_at = $2
		where id = any($1) and status in ('pending', 'running')
	`, ids, at)
	return err
}

func (s *Store) FailStaleRuns(ctx context.Context, silentSince time.Time, output string, at time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `
		update runs
		set status = 'failed', final_output = $2, completed_at = $3
		where status in ('pending', 'running') and heartbeat_at < $1
		returning id
	`, silentSince, output, at)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (s *Store) Audit(ctx context.Context, e runs.AuditEntry) error {
	var actor *uuid.UUID
	if e.ActorID != uuid.Nil {
		actor = &e.ActorID
	}
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	_, err := s.db.Exec(ctx, `
		insert into audit_logs (actor_type, actor_id, action, data)
		values ($1, $2, $3, $4)
	`, e.ActorType, actor, e.Action, data)
	return err
}

func (s *Store) LookupAPIKey(ctx context.Context, keyHash string) (runs.Requester, error) {
	var (
		userID uuid.UUID
		role   string
	)
	err := s.db.QueryRow(ctx, `
		select u.id, u.role
		from user_api_keys k
		join users u on u.id = k.user_id
		where k.key_hash = $1 and k.revoked_at is null
	`, keyHash).Scan(&userID, &role)
	if err != nil {
		return runs.Requester{}, mapErr(err)
	}
	return runs.Requester{UserID: userID, Role: runs.Role(role)}, nil
}

func (s *Store) CreateUserWithKey(ctx context.Context, role runs.Role, keyHash string) (uuid.UUID, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	var userID uuid.UUID
	if err := tx.QueryRow(ctx, `insert into users (role) values ($1) returning id`, string(role)).Scan(&userID); err != nil {
		return uuid.Nil, err
	}
	if _, err := tx.Exec(ctx, `insert into user_api_keys (user_id, key_hash) values ($1, $2)`, userID, keyHash); err != nil {
		return uuid.Nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}
	return userID, nil
}

func (s *Store) hydrate(ctx context.Context, list []runs.Run) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(list))
	index := make(map[uuid.UUID]int, len(list))
	for i, r := range list {
		ids[i] = r.ID
		index[r.ID] = i
	}

	rows, err := s.db.Query(ctx, `
		select id, run_id, name, storage_key, file_type, content_type, description, size_bytes, created_at
		from run_input_files
		where run_id = any($1)
		order by created_at, id
	`, ids)
	if err != nil {
		return fmt.Errorf("load input files: %w", err)
	}
	for rows.Next() {
		var (
			f        runs.InputFile
			fileType string
		)
		if err := rows.Scan(&f.ID, &f.RunID, &f.Name, &f.StorageKey, &fileType, &f.ContentType, &f.Description, &f.Size, &f.CreatedAt); err != nil {
			rows.Close()
			return err
		}
		f.FileType = runs.FileType(fileType)
		i := index[f.RunID]
		list[i].InputFiles = append(list[i].InputFiles, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.Query(ctx, `
		select id, run_id, position, artifact_type, title, data, created_at
		from run_output_artifacts
		where run_id = any($1)
		order by run_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("load artifacts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			a       runs.Artifact
			artType string
		)
		if err := rows.Scan(&a.ID, &a.RunID, &a.Position, &artType, &a.Title, &a.Data, &a.CreatedAt); err != nil {
			return err
		}
		a.Type = artifact.Type(artType)
		i := index[a.RunID]
		list[i].Artifacts = append(list[i].Artifacts, a)
	}
	return rows.Err()
}

func scanRun(row pgx.Row) (runs.Run, error) {
	var (
		r      runs.Run
		status string
	)
	if err := row.Scan(&r.ID, &r.ConversationID, &r.OwnerID, &r.UserInput, &status, &r.FinalOutput, &r.ResponseDigest, &r.StartedAt, &r.HeartbeatAt, &r.CompletedAt); err != nil {
		return runs.Run{}, err
	}
	r.Status = runs.Status(status)
	return r, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func collectKeys(ctx context.Context, q querier, sql string, id uuid.UUID) ([]string, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// transitionMiss explains why a conditional status update matched no row.
func transitionMiss(ctx context.Context, q querier, id uuid.UUID) error {
	var exists bool
	if err := q.QueryRow(ctx, `select exists(select 1 from runs where id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return runs.ErrNotFound
	}
	return runs.ErrInvalidTransition
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return runs.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" {
		// Foreign key target is gone, e.g. the conversation was deleted.
		return runs.ErrNotFound
	}
	return err
}
