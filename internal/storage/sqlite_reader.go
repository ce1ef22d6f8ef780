package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/anytx/dsmlink/internal/spectrum"
)

// DefaultSpanDuration is one DSM frame.
const DefaultSpanDuration = 22 * time.Millisecond

// ErrNoData indicates either that no hop data exists for the given parameters,
// or that all available data has been read from the hop reader.
var ErrNoData = errors.New("no data available")

// HopReader provides an iterator-based interface for reading the hops of a
// session as a sequence of fixed-length occupancy spans.
type HopReader interface {
	// Session returns metadata about the link run this reader is accessing.
	Session() *spectrum.LinkSession

	// Next advances the iterator and returns true if there is another span
	// to read, false when the iteration is complete or if an error occurred.
	Next(context.Context) bool

	// Current returns the current span in the iteration.
	// If called after Next() returns false, the behavior is undefined.
	Current() *spectrum.OccupancySpan

	// Error returns any error that occurred during iteration.
	Error() error

	// Close releases any resources associated with the reader.
	Close() error
}

// ReaderOption configures a HopReader with specific filtering criteria.
type ReaderOption func(*SqliteHopReader)

// WithStartTime excludes hops before t.
func WithStartTime(t time.Time) ReaderOption {
	return func(r *SqliteHopReader) {
		t := t.UTC()
		r.startTime = &t
	}
}

// WithEndTime excludes hops after t.
func WithEndTime(t time.Time) ReaderOption {
	return func(r *SqliteHopReader) {
		t := t.UTC()
		r.endTime = &t
	}
}

// WithTimeRange sets both start and end time filters.
func WithTimeRange(startTime, endTime time.Time) ReaderOption {
	return func(r *SqliteHopReader) {
		WithStartTime(startTime)(r)
		WithEndTime(endTime)(r)
	}
}

// WithChannelRange limits the spans to RF channels [minChannel, maxChannel].
func WithChannelRange(minChannel, maxChannel uint8) ReaderOption {
	return func(r *SqliteHopReader) {
		r.minChannel = &minChannel
		r.maxChannel = &maxChannel
	}
}

// WithSpanDuration sets the time covered by each span.
func WithSpanDuration(d time.Duration) ReaderOption {
	return func(r *SqliteHopReader) {
		r.spanDuration = d
	}
}

// SqliteHopReader implements HopReader for the SQLite backend.
type SqliteHopReader struct {
	db *sql.DB

	sessionID    int64
	session      *spectrum.LinkSession
	spanDuration time.Duration

	startTime  *time.Time // Optional start of time range filter
	endTime    *time.Time // Optional end of time range filter
	minChannel *uint8     // Optional lowest channel
	maxChannel *uint8     // Optional highest channel

	currentSpan   *spectrum.OccupancySpan
	nextSpanStart time.Time
	nextHop       spectrum.HopPoint
	nextHopExists bool
	rows          *sql.Rows
	done          bool
	err           error
}

var _ HopReader = (*SqliteHopReader)(nil)

func newSqliteHopReader(ctx context.Context, db *sql.DB, sessionID int64, opts ...ReaderOption) (*SqliteHopReader, error) {
	hr := &SqliteHopReader{
		db:           db,
		sessionID:    sessionID,
		spanDuration: DefaultSpanDuration,
	}
	for _, opt := range opts {
		opt(hr)
	}
	if err := hr.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return hr, nil
}

func (hr *SqliteHopReader) init(ctx context.Context) error {
	if hr.db == nil {
		return errors.New("database connection required")
	}
	if hr.sessionID <= 0 {
		return errors.New("session ID required")
	}
	if hr.spanDuration <= 0 {
		return fmt.Errorf("invalid span duration %s", hr.spanDuration)
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading session", fn: hr.loadSession},
		{msg: "initializing filters", fn: hr.initFilters},
		{msg: "initializing query", fn: hr.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (hr *SqliteHopReader) loadSession(ctx context.Context) (err error) {
	stmt, err := hr.db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if hr.session, err = scanSession(stmt.QueryRowContext(ctx, hr.sessionID)); err != nil {
		return fmt.Errorf("querying session: %w", err)
	}
	return nil
}

func (hr *SqliteHopReader) initFilters(ctx context.Context) (err error) {
	timeFiltersSet := hr.startTime != nil && hr.endTime != nil
	channelFiltersSet := hr.minChannel != nil && hr.maxChannel != nil

	if timeFiltersSet && hr.startTime.After(*hr.endTime) {
		return fmt.Errorf("start time %s is after end time %s", hr.startTime, hr.endTime)
	}
	if channelFiltersSet && *hr.minChannel > *hr.maxChannel {
		return fmt.Errorf("min channel %d is greater than max channel %d", *hr.minChannel, *hr.maxChannel)
	}
	if timeFiltersSet && channelFiltersSet {
		return nil
	}

	stmt, err := hr.db.PrepareContext(ctx, selectFilterValuesSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var minChannel, maxChannel sql.NullInt64
	var startTime, endTime sqliteDatetime
	if err = stmt.QueryRowContext(ctx, hr.sessionID).Scan(&minChannel, &maxChannel, &startTime, &endTime); err != nil {
		return fmt.Errorf("scanning filters data: %w", err)
	}
	if !minChannel.Valid || !startTime.Valid {
		return ErrNoData
	}

	if hr.minChannel == nil {
		ch := uint8(minChannel.Int64)
		hr.minChannel = &ch
	}
	if hr.maxChannel == nil {
		ch := uint8(maxChannel.Int64)
		hr.maxChannel = &ch
	}
	if hr.startTime == nil {
		t := startTime.Datetime.UTC()
		hr.startTime = &t
	}
	if hr.endTime == nil {
		t := endTime.Datetime.UTC()
		hr.endTime = &t
	}

	return nil
}

func (hr *SqliteHopReader) initQuery(ctx context.Context) (err error) {
	hr.rows, err = hr.db.QueryContext(ctx, selectHopsSQL, hr.sessionID, *hr.startTime, *hr.endTime, *hr.minChannel, *hr.maxChannel)
	if err != nil {
		return fmt.Errorf("querying hops: %w", err)
	}
	hr.nextSpanStart = *hr.startTime
	return nil
}

func (hr *SqliteHopReader) scanHop() (spectrum.HopPoint, error) {
	var h spectrum.HopPoint
	if err := hr.rows.Scan(&h.Timestamp, &h.Seq, &h.Index, &h.Channel, &h.Polarity, &h.Row, &h.SubLink); err != nil {
		return h, fmt.Errorf("scanning hop: %w", err)
	}
	return h, nil
}

// newSpan creates an empty span with one idle point per channel.
func (hr *SqliteHopReader) newSpan(start time.Time) *spectrum.OccupancySpan {
	lo, hi := *hr.minChannel, *hr.maxChannel
	span := &spectrum.OccupancySpan{
		Timestamp:    start,
		Duration:     hr.spanDuration,
		ChannelStart: lo,
		ChannelEnd:   hi,
		Points:       make([]spectrum.ChannelPoint, 0, int(hi-lo)+1),
	}
	for ch := int(lo); ch <= int(hi); ch++ {
		span.Points = append(span.Points, spectrum.ChannelPoint{
			Channel:   uint8(ch),
			Frequency: spectrum.ChannelFrequency(uint8(ch)),
		})
	}
	return span
}

func (hr *SqliteHopReader) add(h spectrum.HopPoint) {
	p := &hr.currentSpan.Points[h.Channel-hr.currentSpan.ChannelStart]
	p.Hops++
	if h.SubLink == "B" {
		p.SubLinkB++
	} else {
		p.SubLinkA++
	}
	if h.Polarity == 1 {
		p.Inverted++
	}
}

func (hr *SqliteHopReader) Session() *spectrum.LinkSession {
	return hr.session
}

// Next emits spans back to back from the start of the range, including
// empty ones where the link was silent.
func (hr *SqliteHopReader) Next(ctx context.Context) bool {
	if hr.err != nil || hr.rows == nil || hr.done {
		return false
	}

	start := hr.nextSpanStart
	end := start.Add(hr.spanDuration)
	if start.After(*hr.endTime) {
		hr.done = true
		hr.err = ErrNoData
		return false
	}

	hr.currentSpan = hr.newSpan(start)
	hr.nextSpanStart = end

	if hr.nextHopExists {
		if hr.nextHop.Timestamp.Before(end) {
			hr.add(hr.nextHop)
			hr.nextHopExists = false
		} else {
			return true
		}
	}

	for {
		select {
		case <-ctx.Done():
			hr.err = ctx.Err()
			return false
		default:
		}

		if !hr.rows.Next() {
			return true
		}

		h, err := hr.scanHop()
		if err != nil {
			hr.err = err
			return false
		}

		if !h.Timestamp.Before(end) {
			hr.nextHop = h
			hr.nextHopExists = true
			return true
		}
		hr.add(h)
	}
}

func (hr *SqliteHopReader) Current() *spectrum.OccupancySpan {
	return hr.currentSpan
}

func (hr *SqliteHopReader) Error() error {
	if hr.err != nil && !errors.Is(hr.err, ErrNoData) {
		return hr.err
	}
	if hr.rows != nil {
		return hr.rows.Err()
	}
	return nil
}

func (hr *SqliteHopReader) Close() error {
	if hr.rows != nil {
		err := hr.rows.Close()
		hr.currentSpan = nil
		hr.nextHopExists = false
		hr.rows = nil
		return err
	}
	return nil
}
