package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/orderflow-backend/internal/normalize"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/korapay"
)

// ChargeFetcher pulls the current state of a charge from the provider.
type ChargeFetcher interface {
	VerifyCharge(ctx context.Context, reference string) (*korapay.Charge, error)
}

// Verifier reconciles a payment by asking the provider instead of waiting
// for a webhook. The pulled charge goes through the same ledger and
// reconciliation path, keyed by reference and observed status.
type Verifier struct {
	payments Service
	korapay  ChargeFetcher
}

func NewVerifier(payments Service, korapay ChargeFetcher) (*Verifier, error) {
	if payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	if korapay == nil {
		return nil, fmt.Errorf("korapay client required")
	}
	return &Verifier{payments: payments, korapay: korapay}, nil
}

func (v *Verifier) Verify(ctx context.Context, provider enums.PaymentProvider, reference string) (Result, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "payment reference is required")
	}
	if provider != enums.PaymentProviderKorapay {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "provider does not support verification").
			WithDetails(map[string]any{"provider": provider})
	}
	charge, err := v.korapay.VerifyCharge(ctx, reference)
	if err != nil {
		return Result{}, err
	}
	if charge == nil {
		return Result{}, pkgerrors.New(pkgerrors.CodeDependency, "provider returned no charge")
	}
	eventID := normalize.VerifyEventID(reference, charge.Status)
	event := normalize.KorapayCharge(*charge, eventID)
	return v.payments.HandleProviderEvent(ctx, provider, eventID, event)
}
