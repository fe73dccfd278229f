package entstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/nitkach/mares/pkg/store"
)

var returningList = strings.Join(recordColumns, ", ")

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (store.Record, error) {
	var (
		rec   store.Record
		breed int64
		mod   dbTime
	)
	if err := row.Scan(&rec.ID, &rec.Name, &breed, &mod); err != nil {
		return store.Record{}, err
	}
	rec.Breed = store.Breed(breed)
	rec.ModifiedAt = mod.t
	return rec, nil
}

// dbTime accepts the representations drivers hand back for a timestamp
// column: time.Time from pgx, and time.Time or text from SQLite.
type dbTime struct{ t time.Time }

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func (d *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		d.t = v.UTC()
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	case nil:
		return fmt.Errorf("entstore: modified_at is NULL")
	default:
		return fmt.Errorf("entstore: cannot scan %T into modified_at", src)
	}
}

func (d *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("entstore: unparseable modified_at %q", s)
}
