package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/orderflow-backend/api/controllers/webhooks"
	"github.com/angelmondragon/orderflow-backend/api/responses"
	"github.com/angelmondragon/orderflow-backend/api/validators"
	"github.com/angelmondragon/orderflow-backend/internal/payments"
	"github.com/angelmondragon/orderflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/orderflow-backend/pkg/errors"
	"github.com/angelmondragon/orderflow-backend/pkg/logger"
)

const maxReferenceLength = 128

type PaymentVerifier interface {
	Verify(ctx context.Context, provider enums.PaymentProvider, reference string) (payments.Result, error)
}

// VerifyPayment pulls the provider's view of a charge and reconciles it the
// same way a webhook would.
func VerifyPayment(verifier PaymentVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment verification unavailable"))
			return
		}

		provider, err := enums.ParsePaymentProvider(validators.ProviderSlug(chi.URLParam(r, "provider")))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "unknown payment provider"))
			return
		}
		reference := validators.SanitizeString(chi.URLParam(r, "reference"), maxReferenceLength)
		if reference == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "reference is required"))
			return
		}
		if logg != nil {
			ctx = logg.WithProvider(ctx, string(provider))
			ctx = logg.WithField(ctx, "reference", reference)
		}

		result, err := verifier.Verify(ctx, provider, reference)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteJSON(w, http.StatusOK, webhooks.NewPaymentResponse(result))
	}
}
