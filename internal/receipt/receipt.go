// Package receipt builds the finalized receipt handed to a printer
package receipt

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"maitred/internal/models"
)

// Line is one printed line
type Line struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Modifiers []string        `json:"modifiers,omitempty"`
	Notes     string          `json:"notes,omitempty"`
}

// Receipt is the document printed after a settlement
type Receipt struct {
	OrderID       uint            `json:"order_id"`
	StaffName     string          `json:"staff_name"`
	TableLabel    string          `json:"table_label"`
	TotalQuantity int             `json:"total_quantity"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Lines         []Line          `json:"lines"`
	Cash          decimal.Decimal `json:"cash"`
	Card          decimal.Decimal `json:"card"`
	Change        decimal.Decimal `json:"change"`
}

// Build assembles a receipt for the settled lines
func Build(orderID uint, staff, table string, items []models.OrderItem, cash, card, change decimal.Decimal) Receipt {
	r := Receipt{
		OrderID:     orderID,
		StaffName:   staff,
		TableLabel:  table,
		TotalAmount: decimal.Zero,
		Cash:        models.Round2(cash),
		Card:        models.Round2(card),
		Change:      models.Round2(change),
	}
	for _, it := range items {
		if it.IsCancelled() {
			continue
		}
		line := Line{
			Name:      it.Name,
			UnitPrice: models.Round2(it.UnitPrice),
			Quantity:  it.Quantity,
			Notes:     it.Note,
		}
		for _, m := range it.Modifiers {
			line.Modifiers = append(line.Modifiers, m.Name)
		}
		r.Lines = append(r.Lines, line)
		r.TotalQuantity += it.Quantity
		r.TotalAmount = r.TotalAmount.Add(it.SumPrice)
	}
	r.TotalAmount = models.Round2(r.TotalAmount)
	return r
}

// Printer prints receipts
type Printer interface {
	Print(ctx context.Context, r Receipt) error
}

// LogPrinter writes receipts to the log
type LogPrinter struct {
	logger *zap.Logger
}

func NewLogPrinter(logger *zap.Logger) *LogPrinter {
	return &LogPrinter{logger: logger}
}

func (p *LogPrinter) Print(_ context.Context, r Receipt) error {
	lines := make([]string, 0, len(r.Lines))
	for _, l := range r.Lines {
		s := l.Name
		if len(l.Modifiers) > 0 {
			s += " (" + strings.Join(l.Modifiers, ", ") + ")"
		}
		lines = append(lines, s)
	}
	p.logger.Info("receipt printed",
		zap.Uint("order_id", r.OrderID),
		zap.String("table", r.TableLabel),
		zap.String("staff", r.StaffName),
		zap.Int("quantity", r.TotalQuantity),
		zap.String("total", r.TotalAmount.StringFixed(2)),
		zap.String("change", r.Change.StringFixed(2)),
		zap.Strings("lines", lines))
	return nil
}
