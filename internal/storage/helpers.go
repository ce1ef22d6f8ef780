package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/anytx/dsmlink/internal/dsm"
	"github.com/anytx/dsmlink/internal/telemetry"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

// sqliteDatetime scans timestamps returned by aggregate functions. The driver
// only converts columns declared as DATETIME, so MIN/MAX come back as text.
type sqliteDatetime struct {
	Datetime time.Time
	Valid    bool
}

func (d *sqliteDatetime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		d.Valid = false
		return nil
	case time.Time:
		d.Datetime, d.Valid = v, true
		return nil
	case []byte:
		return d.parse(string(v))
	case string:
		return d.parse(v)
	}
	return fmt.Errorf("unsupported datetime type %T", value)
}

func (d *sqliteDatetime) parse(s string) error {
	for _, layout := range sqlite3.SQLiteTimestampFormats {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			d.Datetime, d.Valid = t, true
			return nil
		}
	}
	return fmt.Errorf("invalid datetime %q", s)
}

func toHopData(sessionID int64, h dsm.Hop) hopData {
	return hopData{
		SessionID: sessionID,
		Timestamp: h.Time.UTC(),
		Seq:       int64(h.Seq),
		Index:     h.Index,
		Channel:   h.Channel,
		Polarity:  h.Polarity,
		Row:       h.Row,
		SubLink:   h.SubLink.String(),
	}
}

func toTelemetryData(sessionID int64, t *telemetry.Telemetry) (*telemetryData, error) {
	payload, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshaling telemetry: %w", err)
	}

	return &telemetryData{
		SessionID: sessionID,
		Timestamp: t.Timestamp.UTC(),
		Tag:       t.Tag,
		Sensor:    string(t.Sensor),

		Latitude:     toNullFloat64(t.Latitude),
		Longitude:    toNullFloat64(t.Longitude),
		GPSAltitude:  toNullFloat64(t.GPSAltitude),
		GroundSpeed:  toNullFloat64(t.GroundSpeed),
		GroundCourse: toNullFloat64(t.GroundCourse),
		Satellites:   toNullInt64(t.Satellites),
		Altitude:     toNullFloat64(t.Altitude),
		RxVoltage:    toNullFloat64(t.RxVoltage),
		FrameLoss:    toNullInt64(t.FrameLoss),

		Payload: string(payload),
	}, nil
}

func toNullFloat64(f *float64) sql.NullFloat64 {
	return sql.NullFloat64{
		Float64: toSQLNullType[float64](f),
		Valid:   f != nil,
	}
}

func toNullInt64(i *int64) sql.NullInt64 {
	return sql.NullInt64{
		Int64: toSQLNullType[int64](i),
		Valid: i != nil,
	}
}

func toSQLNullType[T float64 | int64, Y float64 | int | int64](f *Y) T {
	if f == nil {
		return 0
	}
	return T(*f)
}

func fromNullFloat64(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return &f.Float64
}

func fromNullInt64(i sql.NullInt64) *int64 {
	if !i.Valid {
		return nil
	}
	return &i.Int64
}
