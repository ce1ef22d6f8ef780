package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anytx/dsmlink/internal/dsm"
	"github.com/anytx/dsmlink/internal/spectrum"
	"github.com/anytx/dsmlink/internal/telemetry"
)

// maxHopsPerInsert keeps a multi-row insert below the SQLite bound
// parameter limit.
const maxHopsPerInsert = 500

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

var _ Store = (*SqliteStore)(nil)

// NewSqliteStore creates a store backed by the SQLite file at dbPath. The
// database and its schema are created on the first write.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		// SQLite allows one writer at a time.
		db.SetMaxOpenConns(1)

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateSession(ctx context.Context, protocol, transceiver, identity string, config any) (sessionID int64, runID string, err error) {
	var configData sql.NullString

	if config != nil {
		switch c := config.(type) {
		case string:
			configData.Valid = true
			configData.String = c

		case []byte:
			configData.Valid = true
			configData.String = string(c)

		default:
			var p []byte
			if p, err = json.Marshal(config); err != nil {
				err = fmt.Errorf("marshaling config: %w", err)
				return
			}

			configData.Valid = true
			configData.String = string(p)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		err = fmt.Errorf("generating run ID: %w", err)
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, id.String(), time.Now().UTC(), protocol, transceiver, identity, configData)
	if err != nil {
		err = fmt.Errorf("inserting session: %w", err)
		return
	}

	sessionID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting session ID: %w", err)
		return
	}
	return sessionID, id.String(), nil
}

func scanSession(row interface{ Scan(...any) error }) (*spectrum.LinkSession, error) {
	var sess spectrum.LinkSession
	var config sql.NullString
	if err := row.Scan(&sess.ID, &sess.RunID, &sess.StartTime, &sess.Protocol, &sess.Transceiver, &sess.Identity, &config); err != nil {
		return nil, err
	}
	if config.Valid {
		sess.Config = &config.String
	}
	return &sess, nil
}

func (s *SqliteStore) Session(ctx context.Context, id int64) (session *spectrum.LinkSession, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	if session, err = scanSession(stmt.QueryRowContext(ctx, id)); err != nil {
		err = fmt.Errorf("scanning session: %w", err)
	}
	return
}

func (s *SqliteStore) Sessions(ctx context.Context) (sessions []*spectrum.LinkSession, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		err = fmt.Errorf("querying sessions: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var sess *spectrum.LinkSession
		if sess, err = scanSession(rows); err != nil {
			err = fmt.Errorf("scanning session: %w", err)
			return
		}
		sessions = append(sessions, sess)
	}
	err = rows.Err()
	return
}

func (s *SqliteStore) BatchInsertHops(ctx context.Context, sessionID int64, hops []dsm.Hop) (err error) {
	if len(hops) == 0 {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	const valuesPlaceholder = "(?, ?, ?, ?, ?, ?, ?, ?)"

	for chunk := range slices.Chunk(hops, maxHopsPerInsert) {
		values := make([]any, 0, len(chunk)*8)

		var sb strings.Builder
		sb.WriteString(insertHopsSQL)

		for i, h := range chunk {
			data := toHopData(sessionID, h)
			values = append(values,
				data.SessionID,
				data.Timestamp,
				data.Seq,
				data.Index,
				data.Channel,
				data.Polarity,
				data.Row,
				data.SubLink,
			)

			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(valuesPlaceholder)
		}

		if _, err = tx.ExecContext(ctx, sb.String(), values...); err != nil {
			return fmt.Errorf("batch inserting hops: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

func (s *SqliteStore) StoreTelemetry(ctx context.Context, sessionID int64, t *telemetry.Telemetry) (telemetryID int64, err error) {
	if t == nil {
		return 0, errors.New("telemetry is required")
	}

	data, err := toTelemetryData(sessionID, t)
	if err != nil {
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertTelemetrySQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(
		ctx,
		data.SessionID,
		data.Timestamp,
		data.Tag,
		data.Sensor,
		data.Latitude,
		data.Longitude,
		data.GPSAltitude,
		data.GroundSpeed,
		data.GroundCourse,
		data.Satellites,
		data.Altitude,
		data.RxVoltage,
		data.FrameLoss,
		data.Payload,
	)
	if err != nil {
		err = fmt.Errorf("inserting telemetry: %w", err)
		return
	}

	telemetryID, err = result.LastInsertId()
	if err != nil {
		err = fmt.Errorf("getting telemetry ID: %w", err)
	}
	return
}

func (s *SqliteStore) StoreFault(ctx context.Context, sessionID int64, timestamp time.Time, phase, message string) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	if _, err = db.ExecContext(ctx, insertFaultSQL, sessionID, timestamp.UTC(), phase, message); err != nil {
		return fmt.Errorf("inserting fault: %w", err)
	}
	return nil
}

// Faults returns the faults recorded for a session in time order.
func (s *SqliteStore) Faults(ctx context.Context, sessionID int64) (faults []spectrum.FaultRecord, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectFaultsSQL, sessionID)
	if err != nil {
		err = fmt.Errorf("querying faults: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var f spectrum.FaultRecord
		if err = rows.Scan(&f.Timestamp, &f.Phase, &f.Message); err != nil {
			err = fmt.Errorf("scanning fault: %w", err)
			return
		}
		faults = append(faults, f)
	}
	err = rows.Err()
	return
}

// GPSTrack returns every GPS fix of a session in time order.
func (s *SqliteStore) GPSTrack(ctx context.Context, sessionID int64) (track []spectrum.TrackPoint, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectTrackSQL, sessionID)
	if err != nil {
		err = fmt.Errorf("querying track: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var p spectrum.TrackPoint
		var altitude, speed sql.NullFloat64
		var satellites sql.NullInt64
		if err = rows.Scan(&p.Timestamp, &p.Latitude, &p.Longitude, &altitude, &speed, &satellites); err != nil {
			err = fmt.Errorf("scanning track point: %w", err)
			return
		}
		p.Altitude = fromNullFloat64(altitude)
		p.GroundSpeed = fromNullFloat64(speed)
		p.Satellites = fromNullInt64(satellites)
		track = append(track, p)
	}
	err = rows.Err()
	return
}

// ReadHops creates a HopReader over the hops of a session, grouped into
// occupancy spans. The returned reader must be closed after use.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - sessionID: Unique identifier of the link run to read from
//   - opts: Optional configuration (WithTimeRange, WithChannelRange, WithSpanDuration)
func (s *SqliteStore) ReadHops(ctx context.Context, sessionID int64, opts ...ReaderOption) (*SqliteHopReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteHopReader(ctx, db, sessionID, opts...)
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
