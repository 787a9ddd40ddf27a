package postgres

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/samber/mo"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/doc-rag/internal/core/document"
	"github.com/jinford/doc-rag/internal/infra/postgres/sqlc"
)

// UUIDToPgtype converts uuid.UUID to pgtype.UUID
func UUIDToPgtype(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// PgtypeToUUID converts pgtype.UUID to uuid.UUID
func PgtypeToUUID(id pgtype.UUID) uuid.UUID {
	return id.Bytes
}

// UUIDsToPgtype converts []uuid.UUID to []pgtype.UUID (never nil)
func UUIDsToPgtype(ids []uuid.UUID) []pgtype.UUID {
	out := make([]pgtype.UUID, 0, len(ids))
	for _, id := range ids {
		out = append(out, UUIDToPgtype(id))
	}
	return out
}

// StringToNullableText converts string to pgtype.Text (nullable)
func StringToNullableText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: sanitizeText(s), Valid: true}
}

// OptionToPgtext converts mo.Option[string] to pgtype.Text
func OptionToPgtext(o mo.Option[string]) pgtype.Text {
	v, ok := o.Get()
	if !ok {
		return pgtype.Text{}
	}
	return pgtype.Text{String: v, Valid: true}
}

// OptionIntToPgInt4 converts mo.Option[int] to pgtype.Int4
func OptionIntToPgInt4(o mo.Option[int]) pgtype.Int4 {
	v, ok := o.Get()
	if !ok {
		return pgtype.Int4{}
	}
	return pgtype.Int4{Int32: int32(v), Valid: true}
}

func statusToPgtext(o mo.Option[document.Status]) pgtype.Text {
	v, ok := o.Get()
	if !ok {
		return pgtype.Text{}
	}
	return pgtype.Text{String: string(v), Valid: true}
}

// PgtextToStringPtr converts pgtype.Text to *string
func PgtextToStringPtr(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

// PgtextToString converts pgtype.Text to string ("" for NULL)
func PgtextToString(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

// StringPtrToPgtext converts *string to pgtype.Text
func StringPtrToPgtext(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{}
	}
	return pgtype.Text{String: sanitizeText(*s), Valid: true}
}

// TimeToPgtype converts time.Time to pgtype.Timestamp
func TimeToPgtype(t time.Time) pgtype.Timestamp {
	return pgtype.Timestamp{Time: t, Valid: true}
}

// PgtypeToTime converts pgtype.Timestamp to time.Time
func PgtypeToTime(t pgtype.Timestamp) time.Time {
	return t.Time
}

// VectorToPgvector converts an embedding to a nullable vector parameter
func VectorToPgvector(v []float32) *pgvector.Vector {
	if len(v) == 0 {
		return nil
	}
	vec := pgvector.NewVector(v)
	return &vec
}

// PgvectorToSlice converts a nullable vector column to []float32
func PgvectorToSlice(v *pgvector.Vector) []float32 {
	if v == nil {
		return nil
	}
	return v.Slice()
}

// MetadataToJSONB converts chunk metadata to JSONB bytes
func MetadataToJSONB(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return b, nil
}

// JSONBToMetadata converts JSONB bytes to chunk metadata
func JSONBToMetadata(b []byte) map[string]any {
	m := map[string]any{}
	if len(b) == 0 {
		return m
	}
	_ = json.Unmarshal(b, &m)
	return m
}

// tagsFromRow は documents 行のタグ列を document.Tags に変換する
func tagsFromRow(row sqlc.Document) document.Tags {
	return document.Tags{
		TenantID:  PgtextToString(row.TenantID),
		UserID:    PgtextToString(row.UserID),
		ProjectID: PgtextToString(row.ProjectID),
		ThreadID:  PgtextToString(row.ThreadID),
	}
}

func convertDocument(row sqlc.Document) *document.Document {
	return &document.Document{
		ID:           PgtypeToUUID(row.ID),
		Name:         row.Name,
		SourceKey:    row.SourceKey,
		Status:       document.Status(row.Status),
		ChunkCount:   int(row.ChunkCount),
		ErrorMessage: PgtextToStringPtr(row.ErrorMessage),
		SyncJobID:    PgtextToStringPtr(row.SyncJobID),
		Tags:         tagsFromRow(row),
		CreatedAt:    PgtypeToTime(row.CreatedAt),
		UpdatedAt:    PgtypeToTime(row.UpdatedAt),
	}
}

// filterParams は document.Filter を SQL パラメータに変換する
type filterParams struct {
	DocumentIDs []pgtype.UUID
	TenantID    pgtype.Text
	UserID      pgtype.Text
	ProjectID   pgtype.Text
	ThreadID    pgtype.Text
}

func newFilterParams(f document.Filter) filterParams {
	return filterParams{
		DocumentIDs: UUIDsToPgtype(f.DocumentIDs),
		TenantID:    OptionToPgtext(f.TenantID),
		UserID:      OptionToPgtext(f.UserID),
		ProjectID:   OptionToPgtext(f.ProjectID),
		ThreadID:    OptionToPgtext(f.ThreadID),
	}
}

// sanitizeText は PostgreSQL の TEXT に格納できない NUL と不正な UTF-8 を取り除く
func sanitizeText(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.ReplaceAll(s, "\x00", "")
}
