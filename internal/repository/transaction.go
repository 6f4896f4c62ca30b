package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dharsanguruparan/LedgerDrop/internal/model"
)

const transactionParams = 7

// TransactionRepository is the Postgres transaction sink. Inserts are keyed on
// (upload_id, original_row_number) so a re-delivered batch is a no-op.
type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// BulkCreate writes one batch in a single statement.
func (r *TransactionRepository) BulkCreate(ctx context.Context, records []model.TransactionRecord) error {
	if len(records) == 0 {
		return nil
	}
	var (
		sb   strings.Builder
		args = make([]any, 0, len(records)*transactionParams)
	)
	sb.WriteString(`INSERT INTO transactions (upload_id, owner_id, original_row_number, occurred_at, content, amount, type) VALUES `)
	for i, rec := range records {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * transactionParams
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, rec.UploadID, rec.OwnerID, rec.OriginalRowNumber, rec.Date.UTC(),
			rec.Content, rec.Amount, string(rec.Type))
	}
	sb.WriteString(` ON CONFLICT (upload_id, original_row_number) DO NOTHING`)

	if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("bulk insert transactions: %w", err)
	}
	return nil
}

// CountForUpload returns how many transactions an upload produced.
func (r *TransactionRepository) CountForUpload(ctx context.Context, uploadID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions WHERE upload_id = $1`, uploadID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}
