package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump is the log-only view of an error chain. It never reaches clients.
type ErrorDump struct {
	TopMessage string
	Code       Code
	Retryable  bool
	Chain      []string
	Postgres   PGDetails
}

// PGDetails holds the server fields of a Postgres error from either driver.
type PGDetails struct {
	Code       string
	Constraint string
	Table      string
	Column     string
	Detail     string
	Message    string
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
		d.Retryable = MetadataFor(d.Code).Retryable
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	d.Postgres, _ = postgresDetails(err)
	return d
}

// postgresDetails checks pgx first since gorm's postgres driver wraps pgx;
// lib/pq shows up through goose's database/sql handle.
func postgresDetails(err error) (PGDetails, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return PGDetails{
			Code:       pgxErr.Code,
			Constraint: pgxErr.ConstraintName,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Detail:     pgxErr.Detail,
			Message:    pgxErr.Message,
		}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return PGDetails{
			Code:       string(pqErr.Code),
			Constraint: pqErr.Constraint,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Detail:     pqErr.Detail,
			Message:    pqErr.Message,
		}, true
	}
	return PGDetails{}, false
}

// Fields flattens the dump for structured logging, leaving out empty values.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{"error": d.TopMessage}
	if d.Code != "" {
		fields["error_code"] = string(d.Code)
		fields["retryable"] = d.Retryable
	}
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	for key, value := range map[string]string{
		"pg_code":       d.Postgres.Code,
		"pg_constraint": d.Postgres.Constraint,
		"pg_table":      d.Postgres.Table,
		"pg_column":     d.Postgres.Column,
		"pg_detail":     d.Postgres.Detail,
		"pg_message":    d.Postgres.Message,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	return fields
}
