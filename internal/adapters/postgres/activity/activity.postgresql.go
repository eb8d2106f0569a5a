package activity

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/lunamall/seckill/pkg"
	cn "github.com/lunamall/seckill/pkg/constant"
	"github.com/lunamall/seckill/pkg/mmodel"
	"github.com/lunamall/seckill/pkg/mopentelemetry"
	"github.com/lunamall/seckill/pkg/mpostgres"
)

// Repository provides an interface for operations related to activity entities.
//
//go:generate mockgen --destination=activity.mock.go --package=activity . Repository
type Repository interface {
	Create(ctx context.Context, act *mmodel.Activity) (*mmodel.Activity, error)
	Find(ctx context.Context, id string) (*mmodel.Activity, error)
	ListByIDs(ctx context.Context, ids []string) ([]*mmodel.Activity, error)
	ListActive(ctx context.Context, limit int) ([]*mmodel.Activity, error)
	UpdateStock(ctx context.Context, id string, soldCount int64) error
	UpdateStatus(ctx context.Context, id, status string) error
	InsertSyncRecord(ctx context.Context, rec *mmodel.SyncRecord) error
}

// ActivityPostgreSQLRepository is a Postgresql-specific implementation of the activity Repository.
type ActivityPostgreSQLRepository struct {
	connection *mpostgres.PostgresConnection
	tableName  string
}

// NewActivityPostgreSQLRepository returns a new instance of ActivityPostgreSQLRepository using the given Postgres connection.
func NewActivityPostgreSQLRepository(pc *mpostgres.PostgresConnection) *ActivityPostgreSQLRepository {
	r := &ActivityPostgreSQLRepository{
		connection: pc,
		tableName:  "activity",
	}

	if _, err := r.connection.GetDB(); err != nil {
		panic("Failed to connect database")
	}

	return r
}

// Create a new activity entity into Postgresql and returns it.
func (r *ActivityPostgreSQLRepository) Create(ctx context.Context, act *mmodel.Activity) (*mmodel.Activity, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.create_activity")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return nil, err
	}

	record := &ActivityPostgreSQLModel{}
	record.FromEntity(act)

	result, err := db.ExecContext(ctx, `INSERT INTO activity VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		record.ID,
		record.Name,
		record.Status,
		record.StartTime,
		record.EndTime,
		record.TotalStock,
		record.SoldCount,
		record.Price,
		record.PerUserLimit,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get rows affected", err)

		return nil, err
	}

	if rowsAffected == 0 {
		err := pkg.ValidateBusinessError(cn.ErrActivityNotFound, reflect.TypeOf(mmodel.Activity{}).Name())

		mopentelemetry.HandleSpanError(&span, "Failed to create activity", err)

		return nil, err
	}

	return record.ToEntity(), nil
}

// Find retrieves an activity entity from the database using the provided ID.
func (r *ActivityPostgreSQLRepository) Find(ctx context.Context, id string) (*mmodel.Activity, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.find_activity")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return nil, err
	}

	record := &ActivityPostgreSQLModel{}

	row := db.QueryRowContext(ctx,
		`SELECT id, name, status, start_time, end_time, total_stock, sold_count, price, per_user_limit, created_at, updated_at
		 FROM activity WHERE id = $1`, id)

	if err := row.Scan(
		&record.ID,
		&record.Name,
		&record.Status,
		&record.StartTime,
		&record.EndTime,
		&record.TotalStock,
		&record.SoldCount,
		&record.Price,
		&record.PerUserLimit,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to scan row", err)

		if errors.Is(err, sql.ErrNoRows) {
			return nil, pkg.ValidateBusinessError(cn.ErrActivityNotFound, reflect.TypeOf(mmodel.Activity{}).Name())
		}

		return nil, err
	}

	return record.ToEntity(), nil
}

// ListByIDs retrieves activities from the database using the provided IDs.
func (r *ActivityPostgreSQLRepository) ListByIDs(ctx context.Context, ids []string) ([]*mmodel.Activity, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.list_activities_by_ids")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return nil, err
	}

	var activities []*mmodel.Activity

	rows, err := db.QueryContext(ctx,
		`SELECT id, name, status, start_time, end_time, total_stock, sold_count, price, per_user_limit, created_at, updated_at
		 FROM activity WHERE id = ANY($1) ORDER BY created_at DESC`, pq.Array(ids))
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		record := &ActivityPostgreSQLModel{}
		if err := rows.Scan(
			&record.ID,
			&record.Name,
			&record.Status,
			&record.StartTime,
			&record.EndTime,
			&record.TotalStock,
			&record.SoldCount,
			&record.Price,
			&record.PerUserLimit,
			&record.CreatedAt,
			&record.UpdatedAt,
		); err != nil {
			mopentelemetry.HandleSpanError(&span, "Failed to scan row", err)

			return nil, err
		}

		activities = append(activities, record.ToEntity())
	}

	if err := rows.Err(); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to iterate rows", err)

		return nil, err
	}

	return activities, nil
}

// ListActive retrieves activities currently in the active status, earliest
// start first, bounded by limit. There is no offset: repeated calls with the
// same limit return the same leading rows.
func (r *ActivityPostgreSQLRepository) ListActive(ctx context.Context, limit int) ([]*mmodel.Activity, error) {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.list_active_activities")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return nil, err
	}

	findAll := squirrel.Select("id", "name", "status", "start_time", "end_time", "total_stock", "sold_count", "price", "per_user_limit", "created_at", "updated_at").
		From(r.tableName).
		Where(squirrel.Eq{"status": mmodel.StatusActive}).
		OrderBy("start_time ASC").
		Limit(pkg.SafeIntToUint64(limit)).
		PlaceholderFormat(squirrel.Dollar)

	query, args, err := findAll.ToSql()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to build query", err)

		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return nil, err
	}
	defer rows.Close()

	var activities []*mmodel.Activity

	for rows.Next() {
		record := &ActivityPostgreSQLModel{}
		if err := rows.Scan(
			&record.ID,
			&record.Name,
			&record.Status,
			&record.StartTime,
			&record.EndTime,
			&record.TotalStock,
			&record.SoldCount,
			&record.Price,
			&record.PerUserLimit,
			&record.CreatedAt,
			&record.UpdatedAt,
		); err != nil {
			mopentelemetry.HandleSpanError(&span, "Failed to scan row", err)

			return nil, err
		}

		activities = append(activities, record.ToEntity())
	}

	if err := rows.Err(); err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to iterate rows", err)

		return nil, err
	}

	return activities, nil
}

// UpdateStock writes the reconciled sold count given by the caller; the stock
// synchronizer derives it from the remaining stock it resolved.
func (r *ActivityPostgreSQLRepository) UpdateStock(ctx context.Context, id string, soldCount int64) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.update_activity_stock")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return err
	}

	result, err := db.ExecContext(ctx,
		`UPDATE activity SET sold_count = $2, updated_at = $3 WHERE id = $1`,
		id, soldCount, time.Now())
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get rows affected", err)

		return err
	}

	if rowsAffected == 0 {
		return pkg.ValidateBusinessError(cn.ErrActivityNotFound, reflect.TypeOf(mmodel.Activity{}).Name())
	}

	return nil
}

// UpdateStatus persists a status transition.
func (r *ActivityPostgreSQLRepository) UpdateStatus(ctx context.Context, id, status string) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.update_activity_status")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return err
	}

	result, err := db.ExecContext(ctx,
		`UPDATE activity SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now())
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get rows affected", err)

		return err
	}

	if rowsAffected == 0 {
		return pkg.ValidateBusinessError(cn.ErrActivityNotFound, reflect.TypeOf(mmodel.Activity{}).Name())
	}

	return nil
}

// InsertSyncRecord appends one reconciliation audit row.
func (r *ActivityPostgreSQLRepository) InsertSyncRecord(ctx context.Context, rec *mmodel.SyncRecord) error {
	tracer := pkg.NewTracerFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.insert_sync_record")
	defer span.End()

	db, err := r.connection.GetDB()
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to get database connection", err)

		return err
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO stock_sync_record (activity_id, old_stock, new_stock, conflict_type, policy, ts) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ActivityID, rec.OldStock, rec.NewStock, rec.ConflictType, rec.Policy, rec.Ts)
	if err != nil {
		mopentelemetry.HandleSpanError(&span, "Failed to execute query", err)

		return err
	}

	return nil
}
