package storage

import (
	"context"
	"fmt"
)

type EmbedCallRecord struct {
	CallID       string
	RunID        string
	SessionID    string
	ProviderName string
	Model        string
	InputCount   int
	Status       string
	ErrorType    string
}

type EmbedAuditRepo struct {
	db *DB
}

func NewEmbedAuditRepo(db *DB) *EmbedAuditRepo {
	return &EmbedAuditRepo{db: db}
}

func (r *EmbedAuditRepo) Insert(ctx context.Context, rec EmbedCallRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO embed_calls(call_id, run_id, session_id, provider_name, model, input_count, status, error_type)
VALUES (COALESCE(NULLIF($1,'')::uuid, gen_random_uuid()), NULLIF($2,''), NULLIF($3,''), $4, NULLIF($5,''), $6, $7, NULLIF($8,''))`,
		rec.CallID, rec.RunID, rec.SessionID, rec.ProviderName, rec.Model, rec.InputCount, rec.Status, rec.ErrorType)
	if err != nil {
		return fmt.Errorf("insert embed call: %w", err)
	}
	return nil
}
