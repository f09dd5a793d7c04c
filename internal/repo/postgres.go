package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"opkomst/internal/roster"
)

// Postgres stores both collections as JSONB documents. Replaces are
// compare-and-swap on the rev column; there is no partial-field update path.
type Postgres struct {
	db *sql.DB
}

// NewPostgres prepares the schema and returns repositories backed by db.
func NewPostgres(db *sql.DB) (*Postgres, error) {
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Postgres{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id   TEXT PRIMARY KEY,
		rev  BIGINT NOT NULL DEFAULT 1,
		doc  JSONB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id   BIGSERIAL PRIMARY KEY,
		doc  JSONB NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users ((LOWER(doc->>'email')));
	`
	_, err := db.Exec(schema)
	return err
}

// Events returns the event repository view.
func (p *Postgres) Events() EventRepository { return &pgEvents{db: p.db} }

// Users returns the user repository view.
func (p *Postgres) Users() UserRepository { return &pgUsers{db: p.db} }

type pgEvents struct {
	db *sql.DB
}

func (r *pgEvents) List(ctx context.Context) ([]roster.Event, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT rev, doc FROM events ORDER BY doc->>'start'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []roster.Event
	for rows.Next() {
		var rev int64
		var doc []byte
		if err := rows.Scan(&rev, &doc); err != nil {
			return nil, err
		}
		var e roster.Event
		if err := json.Unmarshal(doc, &e); err != nil {
			return nil, err
		}
		e.Rev = rev
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *pgEvents) Get(ctx context.Context, id string) (roster.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT rev, doc FROM events WHERE id = $1`, id)
	var rev int64
	var doc []byte
	if err := row.Scan(&rev, &doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return roster.Event{}, ErrNotFound
		}
		return roster.Event{}, err
	}
	var e roster.Event
	if err := json.Unmarshal(doc, &e); err != nil {
		return roster.Event{}, err
	}
	e.Rev = rev
	return e, nil
}

func (r *pgEvents) Create(ctx context.Context, e roster.Event) (roster.Event, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Rev = 1
	doc, err := json.Marshal(e)
	if err != nil {
		return roster.Event{}, err
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO events (id, rev, doc) VALUES ($1, 1, $2)
	`, e.ID, doc); err != nil {
		return roster.Event{}, err
	}
	return e, nil
}

func (r *pgEvents) Replace(ctx context.Context, e roster.Event) (roster.Event, error) {
	expected := e.Rev
	e.Rev = expected + 1
	doc, err := json.Marshal(e)
	if err != nil {
		return roster.Event{}, err
	}
	row := r.db.QueryRowContext(ctx, `
		UPDATE events SET doc = $2, rev = rev + 1
		WHERE id = $1 AND rev = $3
		RETURNING rev
	`, e.ID, doc, expected)
	var rev int64
	if err := row.Scan(&rev); err == nil {
		e.Rev = rev
		return e, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return roster.Event{}, err
	}

	// CAS missed: distinguish a missing document from a stale revision.
	var actual int64
	err = r.db.QueryRowContext(ctx, `SELECT rev FROM events WHERE id = $1`, e.ID).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return roster.Event{}, ErrNotFound
	}
	if err != nil {
		return roster.Event{}, err
	}
	return roster.Event{}, &RevisionConflictError{ID: e.ID, Expected: expected, Actual: actual}
}

func (r *pgEvents) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// userDoc is the persisted shape: the API model plus the password hash,
// which never leaves the store boundary in serialized responses.
type userDoc struct {
	roster.User
	PasswordHash string `json:"passwordHash"`
}

type pgUsers struct {
	db *sql.DB
}

func (r *pgUsers) List(ctx context.Context) ([]roster.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, doc FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []roster.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *pgUsers) Get(ctx context.Context, id int64) (roster.User, error) {
	return r.getWhere(ctx, `id = $1`, id)
}

func (r *pgUsers) GetByEmail(ctx context.Context, email string) (roster.User, error) {
	return r.getWhere(ctx, `LOWER(doc->>'email') = LOWER($1)`, email)
}

func (r *pgUsers) getWhere(ctx context.Context, clause string, arg any) (roster.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, doc FROM users WHERE `+clause, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return roster.User{}, ErrNotFound
	}
	return u, err
}

func (r *pgUsers) Save(ctx context.Context, u roster.User) (roster.User, error) {
	if u.ID == 0 {
		row := r.db.QueryRowContext(ctx, `INSERT INTO users (doc) VALUES ('null'::jsonb) RETURNING id`)
		if err := row.Scan(&u.ID); err != nil {
			return roster.User{}, err
		}
	}
	doc, err := json.Marshal(userDoc{User: u, PasswordHash: u.Password})
	if err != nil {
		return roster.User{}, err
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, doc) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc
	`, u.ID, doc); err != nil {
		return roster.User{}, err
	}
	return u, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanUser(row scannable) (roster.User, error) {
	var id int64
	var doc []byte
	if err := row.Scan(&id, &doc); err != nil {
		return roster.User{}, err
	}
	var d userDoc
	if err := json.Unmarshal(doc, &d); err != nil {
		return roster.User{}, err
	}
	d.User.ID = id
	d.User.Password = d.PasswordHash
	return d.User, nil
}
