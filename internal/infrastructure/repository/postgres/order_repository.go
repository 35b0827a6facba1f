package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
)

// orderColumns are written on insert and compared on conflict, in
// argument order.
var orderColumns = []string{
	"col0", "year", "month", "day", "category", "order_number", "code", "registration",
	"customer", "product_name", "part_name", "specification", "post_process", "status",
	"manager", "due_date", "remark", "quantity", "production", "remaining", "unit_price", "order_amount",
}

var upsertOrderQuery = buildUpsertOrderQuery()

func buildUpsertOrderQuery() string {
	placeholders := make([]string, 0, len(orderColumns)+1)
	assignments := make([]string, 0, len(orderColumns))
	current := make([]string, 0, len(orderColumns))
	incoming := make([]string, 0, len(orderColumns))
	placeholders = append(placeholders, "$1")
	for i, col := range orderColumns {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		assignments = append(assignments, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		current = append(current, "orders."+col)
		incoming = append(incoming, "EXCLUDED."+col)
	}

	return fmt.Sprintf(`
INSERT INTO orders (final_order_number, %s)
VALUES (%s)
ON CONFLICT (final_order_number) DO UPDATE
SET %s, updated_at = now()
WHERE (%s) IS DISTINCT FROM (%s)
RETURNING (xmax = 0) AS inserted
`,
		strings.Join(orderColumns, ", "),
		strings.Join(placeholders, ","),
		strings.Join(assignments, ", "),
		strings.Join(current, ", "),
		strings.Join(incoming, ", "),
	)
}

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// UpsertOrders writes rows one statement at a time. An insert counts as
// created, a changed row as updated and an identical row as skipped. A row
// whose statement fails counts as fail without stopping the batch; a lost
// connection or an ended context aborts it.
func (r *OrderRepository) UpsertOrders(ctx context.Context, rows []domain.OrderRow) (domain.ChunkCounters, error) {
	var counters domain.ChunkCounters
	if len(rows) == 0 {
		return counters, nil
	}

	stmt, err := r.db.PrepareContext(ctx, upsertOrderQuery)
	if err != nil {
		return counters, fmt.Errorf("prepare order upsert: %w", err)
	}
	defer stmt.Close()

	for i := range rows {
		var inserted bool
		err := stmt.QueryRowContext(ctx, orderArgs(&rows[i])...).Scan(&inserted)
		switch {
		case err == nil && inserted:
			counters.Created++
		case err == nil:
			counters.Updated++
		case errors.Is(err, sql.ErrNoRows):
			counters.Skipped++
		case ctx.Err() != nil:
			return counters, fmt.Errorf("upsert orders: %w", ctx.Err())
		case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
			return counters, domain.WrapError(domain.ErrTemporary, "upsert orders", err)
		default:
			counters.Fail++
			slog.Warn("order_upsert_failed", "col0", rows[i].Col0, "error", err)
		}
	}
	counters.Success = counters.Created + counters.Updated + counters.Skipped
	return counters, nil
}

func orderArgs(r *domain.OrderRow) []any {
	return []any{
		r.FinalOrderNumber,
		r.Col0, r.Year, r.Month, r.Day, r.Category, r.OrderNumber, r.Code, r.Registration,
		r.Customer, r.ProductName, r.PartName, r.Specification, r.PostProcess, r.Status,
		r.Manager, r.DueDate, r.Remark, r.Quantity, r.Production, r.Remaining, r.UnitPrice, r.OrderAmount,
	}
}
