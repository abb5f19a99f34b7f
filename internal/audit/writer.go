package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/pkg/model"
)

const writeTimeout = 5 * time.Second

// DBExecutor defines the subset of pgxpool.Pool needed by the writer.
type DBExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaQuery = `
	CREATE SCHEMA IF NOT EXISTS pool;
	CREATE TABLE IF NOT EXISTS pool.credential_event (
		id            uuid PRIMARY KEY,
		event_type    text        NOT NULL,
		credential_id text        NOT NULL,
		identity_id   text,
		ordinal       integer     NOT NULL,
		reason        text,
		recorded_at   timestamptz NOT NULL
	);
	CREATE INDEX IF NOT EXISTS credential_event_credential_idx
		ON pool.credential_event (credential_id, recorded_at);
`

const insertQuery = `
	INSERT INTO pool.credential_event (
		id,
		event_type,
		credential_id,
		identity_id,
		ordinal,
		reason,
		recorded_at
	)
	VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7)
	ON CONFLICT (id) DO NOTHING;
`

// Writer appends pool events to the pool.credential_event table.
type Writer struct {
	db     DBExecutor
	logger *zap.Logger
}

// NewWriter constructs an audit writer. A nil db makes every write a no-op.
func NewWriter(db DBExecutor, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{db: db, logger: logger}
}

// EnsureSchema creates the audit table when missing.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	if w.db == nil {
		return nil
	}
	_, err := w.db.Exec(ctx, schemaQuery)
	return err
}

func (w *Writer) Name() string { return "postgres" }

// Send records one event. Event ids are unique so replays are ignored.
func (w *Writer) Send(event model.PoolEvent) error {
	if w.db == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := w.db.Exec(ctx, insertQuery,
		event.ID,
		event.Type,
		event.CredentialID,
		event.IdentityID,
		event.Ordinal,
		event.Reason,
		event.Timestamp,
	)
	if err != nil {
		w.logger.Error("audit.insert_failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type),
			zap.String("credential_id", event.CredentialID),
			zap.Error(err),
		)
		return err
	}

	w.logger.Debug("audit.insert",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.String("credential_id", event.CredentialID),
	)
	return nil
}
