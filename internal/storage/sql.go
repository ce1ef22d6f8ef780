package storage

import (
	_ "embed"
)

var (
	//go:embed schema.sql
	initSchemaSQL string

	//go:embed indexes.sql
	initIndexesSQL string
)

const (
	insertSessionSQL = `
INSERT INTO sessions (
                      run_id,
                      start_time,
                      protocol,
                      transceiver,
                      identity,
                      config)
VALUES (?, ?, ?, ?, ?, ?)`

	selectSessionSQL = `
SELECT
    id,
    run_id,
    start_time,
    protocol,
    transceiver,
    identity,
    config
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    run_id,
    start_time,
    protocol,
    transceiver,
    identity,
    config
FROM sessions
ORDER BY start_time, id`

	insertHopsSQL = `
INSERT INTO hops (
                  session_id,
                  timestamp,
                  seq,
                  hop_index,
                  channel,
                  polarity,
                  pn_row,
                  sub_link)
VALUES `

	insertTelemetrySQL = `
INSERT INTO telemetry (
                       session_id,
                       timestamp,
                       tag,
                       sensor,
                       latitude,
                       longitude,
                       gps_altitude,
                       ground_speed,
                       ground_course,
                       satellites,
                       altitude,
                       rx_voltage,
                       frame_loss,
                       payload)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertFaultSQL = `
INSERT INTO faults (
                    session_id,
                    timestamp,
                    phase,
                    message)
VALUES (?, ?, ?, ?)`

	selectFaultsSQL = `
SELECT
    timestamp,
    phase,
    message
FROM faults
WHERE
    session_id = ?
ORDER BY timestamp, id`

	selectFilterValuesSQL = `
SELECT
    MIN(channel),
    MAX(channel),
    MIN(timestamp),
    MAX(timestamp)
FROM hops
WHERE
    session_id = ?`

	selectHopsSQL = `
SELECT
    timestamp,
    seq,
    hop_index,
    channel,
    polarity,
    pn_row,
    sub_link
FROM hops
WHERE
    session_id = ?
    AND timestamp BETWEEN ? AND ?
    AND channel BETWEEN ? AND ?
ORDER BY timestamp, seq`

	// GPS speed and satellites arrive in their own frame, so each position
	// takes them from the latest status frame at or before it.
	selectTrackSQL = `
SELECT
    p.timestamp,
    p.latitude,
    p.longitude,
    p.gps_altitude,
    (SELECT s.ground_speed
     FROM telemetry s
     WHERE s.session_id = p.session_id
       AND s.ground_speed IS NOT NULL
       AND s.timestamp <= p.timestamp
     ORDER BY s.timestamp DESC
     LIMIT 1),
    (SELECT s.satellites
     FROM telemetry s
     WHERE s.session_id = p.session_id
       AND s.satellites IS NOT NULL
       AND s.timestamp <= p.timestamp
     ORDER BY s.timestamp DESC
     LIMIT 1)
FROM telemetry p
WHERE
    p.session_id = ?
    AND p.latitude IS NOT NULL
    AND p.longitude IS NOT NULL
ORDER BY p.timestamp, p.id`
)
