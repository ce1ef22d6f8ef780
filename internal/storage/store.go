package storage

import (
	"context"
	"time"

	"github.com/anytx/dsmlink/internal/dsm"
	"github.com/anytx/dsmlink/internal/spectrum"
	"github.com/anytx/dsmlink/internal/telemetry"
)

// Store provides an interface for recording transmitter link runs.
// It handles sessions, hops, telemetry and faults in a thread-safe manner.
// All operations that write to the database should be considered atomic.
type Store interface {
	// CreateSession registers a new link run and returns its identifiers.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - protocol: Protocol variant (e.g., "dsm2", "dsmx")
	//   - transceiver: Radio the link runs on (e.g., "sim", "cyrf6936")
	//   - identity: Manufacturer identity of the transmitter
	//   - config: Optional link configuration. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - sessionID: Unique identifier for the created session
	//   - runID: Globally unique run identifier
	//   - error: If session creation fails or context is cancelled
	CreateSession(ctx context.Context, protocol, transceiver, identity string, config any) (sessionID int64, runID string, err error)

	// Session retrieves a specific link run by its ID.
	Session(ctx context.Context, id int64) (session *spectrum.LinkSession, err error)

	// Sessions returns all link runs stored in the database, ordered by start time.
	Sessions(ctx context.Context) (sessions []*spectrum.LinkSession, err error)

	// BatchInsertHops saves hops of a session in a single transaction.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - sessionID: ID of the session the hops belong to
	//   - hops: Hops in transmit order
	//
	// Returns:
	//   - error: If storage fails or context is cancelled
	BatchInsertHops(ctx context.Context, sessionID int64, hops []dsm.Hop) error

	// StoreTelemetry saves one decoded telemetry frame for a session.
	StoreTelemetry(ctx context.Context, sessionID int64, t *telemetry.Telemetry) (telemetryID int64, err error)

	// StoreFault saves a link fault for a session.
	StoreFault(ctx context.Context, sessionID int64, timestamp time.Time, phase, message string) error

	// Close releases all database connections and resources.
	// After Close is called, the store instance cannot be reused.
	// It is safe to call Close multiple times.
	Close() error
}
