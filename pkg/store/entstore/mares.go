package entstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ncruces/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nitkach/mares/pkg/errmodel"
	"github.com/nitkach/mares/pkg/store"
)

const tracerName = "store/entstore"

// Create validates the input, assigns a fresh id and inserts the record.
func (s *Store) Create(ctx context.Context, name string, breed store.Breed) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Store.Create")
	defer span.End()

	if err := validate(name, breed); err != nil {
		return "", err
	}
	rec := store.Record{
		ID:         s.ids.NewID(),
		Name:       name,
		Breed:      breed,
		ModifiedAt: s.stamp(),
	}
	span.SetAttributes(attribute.String("mare.id", rec.ID))

	q, args := s.builder().Insert(tableMares).
		Columns(recordColumns...).
		Values(rec.ID, rec.Name, int16(rec.Breed), rec.ModifiedAt).
		Query()
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		span.RecordError(err)
		return "", s.classify("create", err)
	}

	s.log.Info().
		Str("id", rec.ID).
		Str("name", rec.Name).
		Stringer("breed", rec.Breed).
		Time("modified_at", rec.ModifiedAt).
		Msg("added record")
	return rec.ID, nil
}

// Get loads one record; the bool is false when no row matches.
func (s *Store) Get(ctx context.Context, id string) (store.Record, bool, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Store.Get", trace.WithAttributes(attribute.String("mare.id", id)))
	defer span.End()

	q, args := s.builder().Select(recordColumns...).
		From(s.builder().Table(tableMares)).
		Where(entsql.EQ(columnID, id)).
		Query()
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		s.log.Warn().Str("id", id).Msg("record not found")
		return store.Record{}, false, nil
	}
	if err != nil {
		span.RecordError(err)
		return store.Record{}, false, s.classify("get", err)
	}
	return rec, true, nil
}

// Update is a check-and-set on ModifiedAt. The comparison and the write are
// one conditional UPDATE, so two writers holding the same token can never
// both succeed. When nothing matched, an existence probe in the same
// transaction tells a stale token apart from a missing row.
func (s *Store) Update(ctx context.Context, id, name string, breed store.Breed, expectedModifiedAt time.Time) (store.SetResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Store.Update", trace.WithAttributes(attribute.String("mare.id", id)))
	defer span.End()

	if err := validate(name, breed); err != nil {
		return store.SetUnknown, err
	}
	expected := normalize(expectedModifiedAt)
	// ModifiedAt must strictly advance even when the clock has not.
	modified := s.stamp()
	if !modified.After(expected) {
		modified = expected.Add(time.Microsecond)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return store.SetUnknown, s.classify("update", err)
	}
	defer func() { _ = tx.Rollback() }()

	q, args := s.builder().Update(tableMares).
		Set(columnName, name).
		Set(columnBreed, int16(breed)).
		Set(columnModifiedAt, modified).
		Where(entsql.And(
			entsql.EQ(columnID, id),
			entsql.EQ(columnModifiedAt, expected),
		)).
		Query()
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		span.RecordError(err)
		return store.SetUnknown, s.classify("update", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		span.RecordError(err)
		return store.SetUnknown, s.classify("update", err)
	}

	result := store.SetSuccess
	if n == 0 {
		result, err = s.missReason(ctx, tx, id)
		if err != nil {
			span.RecordError(err)
			return store.SetUnknown, err
		}
	} else if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return store.SetUnknown, s.classify("update", err)
	}
	span.SetAttributes(attribute.String("mare.set_result", result.String()))

	switch result {
	case store.SetSuccess:
		s.log.Info().Str("id", id).Str("name", name).Stringer("breed", breed).Time("modified_at", modified).Msg("updated record")
	case store.SetModifiedAtConflict:
		s.log.Warn().Str("id", id).Time("expected_modified_at", expected).Msg("record changed since it was loaded")
	case store.SetRecordNotFound:
		s.log.Warn().Str("id", id).Msg("record not found")
	}
	return result, nil
}

func (s *Store) missReason(ctx context.Context, tx *sql.Tx, id string) (store.SetResult, error) {
	q, args := s.builder().Select(columnID).
		From(s.builder().Table(tableMares)).
		Where(entsql.EQ(columnID, id)).
		Query()
	var found string
	err := tx.QueryRowContext(ctx, q, args...).Scan(&found)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return store.SetRecordNotFound, nil
	case err != nil:
		return store.SetUnknown, s.classify("update", err)
	default:
		return store.SetModifiedAtConflict, nil
	}
}

// Remove deletes the row and returns what it held, in one statement.
func (s *Store) Remove(ctx context.Context, id string) (store.Record, bool, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Store.Remove", trace.WithAttributes(attribute.String("mare.id", id)))
	defer span.End()

	q, args := s.builder().Delete(tableMares).
		Where(entsql.EQ(columnID, id)).
		Query()
	// Both engines support RETURNING on DELETE.
	q += " RETURNING " + returningList
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		s.log.Warn().Str("id", id).Msg("record not found")
		return store.Record{}, false, nil
	}
	if err != nil {
		span.RecordError(err)
		return store.Record{}, false, s.classify("remove", err)
	}
	s.log.Info().Str("id", id).Msg("removed record")
	return rec, true, nil
}

// List returns every record ordered by id.
func (s *Store) List(ctx context.Context) ([]store.Record, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Store.List")
	defer span.End()

	q, args := s.builder().Select(recordColumns...).
		From(s.builder().Table(tableMares)).
		OrderBy(columnID).
		Query()
	out, err := s.queryRecords(ctx, q, args)
	if err != nil {
		span.RecordError(err)
		return nil, s.classify("list", err)
	}
	s.log.Info().Int("total", len(out)).Msg("listed records")
	return out, nil
}

// Page returns up to store.PageSize records relative to cursor, ascending by
// id. The cursor is only a boundary value and need not name a stored row.
func (s *Store) Page(ctx context.Context, cursor string, dir store.Direction) ([]store.Record, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Store.Page", trace.WithAttributes(
		attribute.String("page.cursor", cursor),
		attribute.String("page.direction", dir.String()),
	))
	defer span.End()

	if err := store.ValidateCursor(cursor); err != nil {
		return nil, err
	}
	sel := s.builder().Select(recordColumns...).
		From(s.builder().Table(tableMares)).
		Limit(store.PageSize)
	switch dir {
	case store.First:
		sel = sel.OrderBy(columnID)
	case store.Next:
		sel = sel.Where(entsql.GT(columnID, cursor)).OrderBy(columnID)
	case store.Previous:
		sel = sel.Where(entsql.LT(columnID, cursor)).OrderBy(entsql.Desc(columnID))
	default:
		return nil, errmodel.Validation("direction_unknown", fmt.Sprintf("unknown page direction %d", int(dir)), nil)
	}
	q, args := sel.Query()
	out, err := s.queryRecords(ctx, q, args)
	if err != nil {
		span.RecordError(err)
		return nil, s.classify("page", err)
	}
	if dir == store.Previous {
		// Selected walking backwards, presented ascending.
		slices.Reverse(out)
	}
	span.SetAttributes(attribute.Int("page.size", len(out)))
	return out, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Store.Count")
	defer span.End()

	q, args := s.builder().Select(entsql.Count("*")).
		From(s.builder().Table(tableMares)).
		Query()
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		span.RecordError(err)
		return 0, s.classify("count", err)
	}
	return int(n), nil
}

func (s *Store) queryRecords(ctx context.Context, q string, args []any) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make([]store.Record, 0, store.PageSize)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func validate(name string, breed store.Breed) error {
	if err := store.ValidateName(name); err != nil {
		return err
	}
	return store.ValidateBreed(breed)
}

// classify turns a driver error into a store error. Engine failures are
// surfaced as unavailable and never retried here.
func (s *Store) classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return errmodel.Wrap(errmodel.CategorySystem, "duplicate_id", op+": identifier already stored", nil, err)
		case "22021", "22P05":
			// Byte sequence the database encoding cannot hold.
			return errmodel.Wrap(errmodel.CategoryValidation, "bad_encoding", op+": input is not valid text", nil, err)
		}
	}
	var liteErr *sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.ExtendedCode() == sqlite3.CONSTRAINT_PRIMARYKEY {
		return errmodel.Wrap(errmodel.CategorySystem, "duplicate_id", op+": identifier already stored", nil, err)
	}
	s.log.Error().Err(err).Str("op", op).Msg("storage engine error")
	return store.Unavailable(op, err)
}
