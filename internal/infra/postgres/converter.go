package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/jinford/legal-rag/internal/core/knowledge"
)

// UUIDToPgtype converts uuid.UUID to pgtype.UUID
func UUIDToPgtype(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// PgtypeToUUID converts pgtype.UUID to uuid.UUID
func PgtypeToUUID(id pgtype.UUID) uuid.UUID {
	return id.Bytes
}

// Int64PtrToPgtype converts *int64 to pgtype.Int8
func Int64PtrToPgtype(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}

// PgtimestamptzToTimePtr converts pgtype.Timestamptz to *time.Time
func PgtimestamptzToTimePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

// PgdateToTimePtr converts pgtype.Date to *time.Time
func PgdateToTimePtr(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}

// Pgint8ToInt64Ptr converts pgtype.Int8 to *int64
func Pgint8ToInt64Ptr(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func encodeMetadata(m knowledge.DocumentMetadata) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return b, nil
}

func decodeMetadata(b []byte) (knowledge.DocumentMetadata, error) {
	var m knowledge.DocumentMetadata
	if err := json.Unmarshal(b, &m); err != nil {
		return knowledge.DocumentMetadata{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return m, nil
}
