package storage

import (
	"database/sql"
	"time"
)

type hopData struct {
	SessionID int64
	Timestamp time.Time
	Seq       int64
	Index     int
	Channel   uint8
	Polarity  uint8
	Row       int
	SubLink   string
}

type telemetryData struct {
	ID           int64
	SessionID    int64
	Timestamp    time.Time
	Tag          uint8
	Sensor       string
	Latitude     sql.NullFloat64
	Longitude    sql.NullFloat64
	GPSAltitude  sql.NullFloat64
	GroundSpeed  sql.NullFloat64
	GroundCourse sql.NullFloat64
	Satellites   sql.NullInt64
	Altitude     sql.NullFloat64
	RxVoltage    sql.NullFloat64
	FrameLoss    sql.NullInt64
	Payload      string
}
