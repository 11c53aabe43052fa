package payments

import (
	"time"

	"github.com/angelmondragon/orderflow-backend/pkg/db/models"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
)

// Transition is the outcome of applying a provider status to a payment.
type Transition struct {
	From       enums.PaymentStatus
	To         enums.PaymentStatus
	Updates    map[string]any
	BecamePaid bool
	BecameFail bool
}

// Changed reports whether the payment status moves.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// ApplyStatus decides how a mapped provider status affects the payment. It
// never regresses a paid or refunded payment, so replaying an older event
// cannot undo a capture.
func ApplyStatus(payment *models.Payment, next enums.PaymentStatus, now time.Time) Transition {
	t := Transition{From: payment.Status, To: payment.Status, Updates: map[string]any{}}
	if !allowed(payment.Status, next) {
		return t
	}
	t.To = next
	t.Updates["status"] = next
	switch next {
	case enums.PaymentStatusPaid:
		t.BecamePaid = true
		if payment.PaidAt == nil {
			paid := now.UTC()
			t.Updates["paid_at"] = paid
			payment.PaidAt = &paid
		}
	case enums.PaymentStatusFailed:
		t.BecameFail = true
	}
	payment.Status = next
	return t
}

func allowed(current, next enums.PaymentStatus) bool {
	switch next {
	case enums.PaymentStatusPaid:
		return current == enums.PaymentStatusPending || current == enums.PaymentStatusAuthorized || current == enums.PaymentStatusFailed
	case enums.PaymentStatusAuthorized:
		return current == enums.PaymentStatusPending
	case enums.PaymentStatusFailed:
		return current == enums.PaymentStatusPending || current == enums.PaymentStatusAuthorized
	}
	return false
}
