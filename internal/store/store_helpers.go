package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

func scanRecord(scanner interface{ Scan(dest ...any) error }) (Record, error) {
	var (
		rec          Record
		startedRaw   string
		stoppedRaw   sql.NullString
		updatedRaw   string
		sourcesJSON  string
		spoolDir     sql.NullString
		outputPath   sql.NullString
		cause        sql.NullString
		errorMessage sql.NullString
		warningsJSON string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.State,
		&startedRaw,
		&stoppedRaw,
		&updatedRaw,
		&sourcesJSON,
		&spoolDir,
		&outputPath,
		&rec.OutputBytes,
		&cause,
		&errorMessage,
		&warningsJSON,
	); err != nil {
		return Record{}, err
	}
	rec.SpoolDir = spoolDir.String
	rec.OutputPath = outputPath.String
	rec.Cause = cause.String
	rec.ErrorMessage = errorMessage.String
	if t, err := parseTimeString(startedRaw); err == nil {
		rec.StartedAt = t
	}
	if stoppedRaw.Valid {
		if t, err := parseTimeString(stoppedRaw.String); err == nil {
			rec.StoppedAt = t
		}
	}
	if t, err := parseTimeString(updatedRaw); err == nil {
		rec.UpdatedAt = t
	}
	_ = json.Unmarshal([]byte(sourcesJSON), &rec.Sources)
	_ = json.Unmarshal([]byte(warningsJSON), &rec.Warnings)
	return rec, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func escapeLike(value string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(value)
}
