package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"livraison/internal/domain"
)

type MySQLLineItemRepository struct {
	db *sql.DB
}

func NewMySQLLineItemRepository(db *sql.DB) *MySQLLineItemRepository {
	return &MySQLLineItemRepository{db: db}
}

type customizationRow struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// InsertAll freezes the order's line items. They are never updated afterwards.
func (r *MySQLLineItemRepository) InsertAll(ctx context.Context, tx *sql.Tx, orderID uuid.UUID, items []domain.LineItem) error {
	query := `INSERT INTO order_line_items (order_id, position, menu_item_id, name, quantity, unit_price, customizations)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	for i, item := range items {
		rows := make([]customizationRow, len(item.Customizations))
		for j, c := range item.Customizations {
			rows[j] = customizationRow{Name: c.Name, Price: c.Price}
		}
		customizations, err := json.Marshal(rows)
		if err != nil {
			return fmt.Errorf("encoding customizations: %w", err)
		}

		_, err = tx.ExecContext(ctx, query, orderID, i, item.MenuItemID, item.Name, item.Quantity, item.UnitPrice, customizations)
		if err != nil {
			return fmt.Errorf("inserting order line item: %w", err)
		}
	}
	return nil
}

func (r *MySQLLineItemRepository) FindByOrderIDs(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]domain.LineItem, error) {
	result := make(map[uuid.UUID][]domain.LineItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(orderIDs))
	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := `SELECT order_id, menu_item_id, name, quantity, unit_price, customizations
		FROM order_line_items
		WHERE order_id IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY order_id, position`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying order line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID        uuid.UUID
			item           domain.LineItem
			customizations []byte
		)
		if err := rows.Scan(&orderID, &item.MenuItemID, &item.Name, &item.Quantity, &item.UnitPrice, &customizations); err != nil {
			return nil, fmt.Errorf("scanning order line item: %w", err)
		}
		if len(customizations) > 0 {
			var decoded []customizationRow
			if err := json.Unmarshal(customizations, &decoded); err != nil {
				return nil, fmt.Errorf("decoding customizations: %w", err)
			}
			for _, c := range decoded {
				item.Customizations = append(item.Customizations, domain.Customization{Name: c.Name, Price: c.Price})
			}
		}
		result[orderID] = append(result[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating order line items: %w", err)
	}
	return result, nil
}
