package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Juancal1728/multichat-relay/internal/model"
	"github.com/Juancal1728/multichat-relay/internal/store"
)

var (
	_ store.HistoryLog    = (*PostgresStore)(nil)
	_ store.RegistryStore = (*PostgresStore)(nil)
)

// schema creates the relay tables when missing. The seq column keeps
// append order independent of timestamps, which only carry millisecond
// resolution.
const schema = `
CREATE TABLE IF NOT EXISTS history (
	seq       BIGSERIAL PRIMARY KEY,
	log_key   TEXT NOT NULL,
	id        TEXT NOT NULL,
	type      TEXT NOT NULL,
	sender    TEXT NOT NULL,
	target    TEXT NOT NULL,
	is_group  BOOLEAN NOT NULL,
	content   TEXT NOT NULL DEFAULT '',
	file_path TEXT NOT NULL DEFAULT '',
	ts        BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS history_log_key_idx ON history (log_key, seq);

CREATE TABLE IF NOT EXISTS identities (
	identity TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS groups (
	name   TEXT NOT NULL,
	member TEXT NOT NULL,
	PRIMARY KEY (name, member)
);
`

// PostgresStore backs the history log and registry snapshots with
// Postgres instead of flat files. It satisfies the same contracts as
// the file store, so registries are oblivious to the backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the relay tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping verifies the connection is healthy.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Append(key string, rec model.HistoryRecord) error {
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO history (log_key, id, type, sender, target, is_group, content, file_path, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key, rec.ID, rec.Type, rec.From, rec.Target, rec.IsGroup, rec.Content, rec.FilePath, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (s *PostgresStore) ReadAll(key string) ([]model.HistoryRecord, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT id, type, sender, target, is_group, content, file_path, ts
		 FROM history WHERE log_key = $1 ORDER BY seq`, key)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	defer rows.Close()

	var recs []model.HistoryRecord
	for rows.Next() {
		var rec model.HistoryRecord
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.From, &rec.Target,
			&rec.IsGroup, &rec.Content, &rec.FilePath, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return recs, nil
}

func (s *PostgresStore) Rewrite(key string, recs []model.HistoryRecord) error {
	ctx := context.Background()
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM history WHERE log_key = $1`, key); err != nil {
			return err
		}
		for _, rec := range recs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO history (log_key, id, type, sender, target, is_group, content, file_path, ts)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				key, rec.ID, rec.Type, rec.From, rec.Target, rec.IsGroup,
				rec.Content, rec.FilePath, rec.Timestamp); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) Delete(key string) error {
	if _, err := s.pool.Exec(context.Background(),
		`DELETE FROM history WHERE log_key = $1`, key); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveIdentities(identities []string) error {
	ctx := context.Background()
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM identities`); err != nil {
			return err
		}
		for _, identity := range identities {
			if _, err := tx.Exec(ctx,
				`INSERT INTO identities (identity) VALUES ($1)`, identity); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) LoadIdentities() ([]string, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT identity FROM identities ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("load identities: %w", err)
	}
	defer rows.Close()

	var identities []string
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		identities = append(identities, identity)
	}
	return identities, rows.Err()
}

func (s *PostgresStore) SaveGroups(groups map[string][]string) error {
	ctx := context.Background()
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM groups`); err != nil {
			return err
		}
		for name, members := range groups {
			for _, member := range members {
				if _, err := tx.Exec(ctx,
					`INSERT INTO groups (name, member) VALUES ($1, $2)`, name, member); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *PostgresStore) LoadGroups() (map[string][]string, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT name, member FROM groups ORDER BY name, member`)
	if err != nil {
		return nil, fmt.Errorf("load groups: %w", err)
	}
	defer rows.Close()

	groups := make(map[string][]string)
	for rows.Next() {
		var name, member string
		if err := rows.Scan(&name, &member); err != nil {
			return nil, fmt.Errorf("scan group row: %w", err)
		}
		groups[name] = append(groups[name], member)
	}
	return groups, rows.Err()
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback(ctx)
		return fmt.Errorf("tx: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
