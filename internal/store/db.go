package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/alphabot-ai/trickbook/internal/apperr"
	"github.com/alphabot-ai/trickbook/internal/dbctx"
	"github.com/alphabot-ai/trickbook/internal/logger"
)

const (
	sqlitePrefix   = "sqlite://"
	postgresPrefix = "postgres://"
)

var tracer = otel.Tracer("github.com/alphabot-ai/trickbook/internal/store")

// Open connects to DATABASE_URL (sqlite://path or postgres://...) and
// migrates the schema.
func Open(databaseURL string, log *logger.Logger) (*gorm.DB, error) {
	if log == nil {
		log = logger.Nop()
	}
	dialector, sqliteMode, err := dialectorFor(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.New(gormWriter{log: log}, gormLogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if sqliteMode {
		// One writer at a time; _txlock=immediate makes every transaction take
		// the write lock up front.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
	}

	if err := Migrate(db); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func dialectorFor(databaseURL string) (gorm.Dialector, bool, error) {
	switch {
	case strings.HasPrefix(databaseURL, sqlitePrefix):
		path := strings.TrimPrefix(databaseURL, sqlitePrefix)
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn := path + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
		return sqlite.Open(dsn), true, nil
	case strings.HasPrefix(databaseURL, postgresPrefix), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgres.Open(databaseURL), false, nil
	default:
		return nil, false, fmt.Errorf("unsupported DATABASE_URL %q: must start with %s or %s", databaseURL, sqlitePrefix, postgresPrefix)
	}
}

// Migrate creates or updates every table plus the indexes gorm tags cannot
// express.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	// At most one open moderation item per target.
	err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_moderation_open_target
		ON moderation_items(target_type, target_id) WHERE resolved_at IS NULL`).Error
	if err != nil {
		return fmt.Errorf("failed to create open item index: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// TxRunner is the transaction boundary every core write goes through.
type TxRunner interface {
	InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error
}

type gormTxRunner struct {
	db *gorm.DB
}

func NewTxRunner(db *gorm.DB) TxRunner {
	return &gormTxRunner{db: db}
}

func (r *gormTxRunner) InTx(ctx context.Context, fn func(dbc dbctx.Context) error) error {
	if fn == nil {
		return nil
	}
	if r == nil || r.db == nil {
		return apperr.New(apperr.CodeInternal, "store.tx", "transaction runner has nil db", nil)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(dbctx.Context{Ctx: ctx, Tx: tx})
	})
}

// Execute runs fn in one transaction under a span named op and maps any
// failure into the apperr taxonomy.
func Execute(ctx context.Context, runner TxRunner, op string, fn func(dbc dbctx.Context) error) error {
	op = strings.TrimSpace(op)
	if op == "" {
		op = "store.write"
	}
	ctx, span := tracer.Start(ctx, op)
	defer span.End()

	err := MapError(op, runner.InTx(ctx, fn))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(apperr.CodeOf(err)))
	}
	return err
}

// ForUpdate row-locks the selected rows on PostgreSQL. SQLite transactions
// already hold the database write lock.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// graphLockKey names the advisory lock that serializes prerequisite graph
// writes on PostgreSQL.
const graphLockKey int64 = 0x7472_6963_6b73

// LockGraph holds the graph write lock until dbc's transaction ends. Cycle
// checks read edges other writers may be adding, so they must not overlap.
// SQLite transactions already hold the database write lock.
func LockGraph(dbc dbctx.Context) error {
	db := dbc.DB()
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	return db.Exec("SELECT pg_advisory_xact_lock(?)", graphLockKey).Error
}

// UpdateByStatus moves the row with id from one of the from statuses and
// reports whether it did. Zero rows affected means another writer won.
func UpdateByStatus(dbc dbctx.Context, model any, id string, from []SubmissionStatus, updates map[string]any) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("no source statuses")
	}
	res := dbc.DB().Model(model).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

type gormWriter struct {
	log *logger.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.SugaredLogger.Warnf(format, args...)
}
