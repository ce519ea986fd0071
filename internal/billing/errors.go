package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrBillNotPrinted = errors.New("bill must be printed before checkout")
	ErrNothingToPay   = errors.New("nothing left to pay")
	ErrReasonRequired = errors.New("a reason is required")
)

// InsufficientPaymentError rejects a tender below the amount due
type InsufficientPaymentError struct {
	Due      decimal.Decimal
	Tendered decimal.Decimal
}

// Short returns the missing amount
func (e *InsufficientPaymentError) Short() decimal.Decimal {
	return e.Due.Sub(e.Tendered).Round(2)
}

func (e *InsufficientPaymentError) Error() string {
	return fmt.Sprintf("insufficient payment, short by %s", e.Short().StringFixed(2))
}
