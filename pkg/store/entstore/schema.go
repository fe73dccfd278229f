package entstore

import (
	"context"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	tableMares = "mares"

	columnID         = "id"
	columnName       = "name"
	columnBreed      = "breed"
	columnModifiedAt = "modified_at"
)

var recordColumns = []string{columnID, columnName, columnBreed, columnModifiedAt}

var (
	maresColumns = []*schema.Column{
		// Canonical ULID text; byte order is generation order.
		{Name: columnID, Type: field.TypeString, Size: 26},
		{Name: columnName, Type: field.TypeString, Size: 100},
		// Breed code. Persisted numerically; never renumber.
		{Name: columnBreed, Type: field.TypeInt16},
		{Name: columnModifiedAt, Type: field.TypeTime, SchemaType: map[string]string{
			dialect.Postgres: "timestamptz",
			dialect.SQLite:   "datetime",
		}},
	}
	maresTable = &schema.Table{
		Name:       tableMares,
		Columns:    maresColumns,
		PrimaryKey: []*schema.Column{maresColumns[0]},
	}
)

func createSchema(ctx context.Context, drv dialect.Driver) error {
	m, err := schema.NewMigrate(drv)
	if err != nil {
		return err
	}
	return m.Create(ctx, maresTable)
}
