package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"golang.org/x/text/currency"

	"github.com/NagabhushanAdiga/shop-e/internal/services"
)

// StripeLogger defines the logging contract for Stripe operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeVerifierConfig configures the StripeVerifier.
type StripeVerifierConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	// SkipAmountCheck accepts a succeeded intent even when its amount differs from the order total.
	SkipAmountCheck bool

	intents stripePaymentIntentAPI
}

// StripeVerifier treats a PaymentIntent id as the transaction reference and reports it verified
// once Stripe marks the intent succeeded for the expected amount and currency.
type StripeVerifier struct {
	intents     stripePaymentIntentAPI
	account     string
	checkAmount bool
	logger      StripeLogger
}

var _ services.PaymentVerifier = (*StripeVerifier)(nil)

// NewStripeVerifier constructs a verifier backed by the Stripe PaymentIntents API.
func NewStripeVerifier(cfg StripeVerifierConfig) (*StripeVerifier, error) {
	intents := cfg.intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeVerifier{
		intents:     intents,
		account:     strings.TrimSpace(cfg.AccountID),
		checkAmount: !cfg.SkipAmountCheck,
		logger:      logger,
	}, nil
}

// VerifyPayment looks the intent up and compares it with the order. Unknown intents are reported
// as unverified rather than as errors.
func (v *StripeVerifier) VerifyPayment(ctx context.Context, details services.PaymentDetails) (bool, error) {
	if v == nil {
		return false, errors.New("stripe: verifier is nil")
	}
	intentID := strings.TrimSpace(details.TransactionID)
	if intentID == "" {
		return false, errors.New("stripe: payment intent id is required")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if v.account != "" {
		params.SetStripeAccount(v.account)
	}

	intent, err := v.intents.Get(intentID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && (stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == 404) {
			v.logger(ctx, "payments.stripe.intent.missing", map[string]any{"paymentIntent": intentID})
			return false, nil
		}
		return false, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	if intent == nil || intent.Status != stripe.PaymentIntentStatusSucceeded {
		status := ""
		if intent != nil {
			status = string(intent.Status)
		}
		v.logger(ctx, "payments.stripe.intent.unsettled", map[string]any{
			"paymentIntent": intentID,
			"status":        status,
		})
		return false, nil
	}

	if !v.checkAmount {
		return true, nil
	}

	code := strings.ToUpper(strings.TrimSpace(details.Currency))
	if code != "" && !strings.EqualFold(string(intent.Currency), code) {
		v.logger(ctx, "payments.stripe.intent.currency_mismatch", map[string]any{
			"paymentIntent": intentID,
			"expected":      code,
			"actual":        intent.Currency,
		})
		return false, nil
	}

	expected, err := MinorUnits(details.Amount, code)
	if err != nil {
		return false, err
	}
	if intent.Amount != expected {
		v.logger(ctx, "payments.stripe.intent.amount_mismatch", map[string]any{
			"paymentIntent": intentID,
			"expected":      expected,
			"actual":        intent.Amount,
		})
		return false, nil
	}
	return true, nil
}

// MinorUnits converts an amount into the smallest currency unit (paise for INR, yen for JPY).
func MinorUnits(amount decimal.Decimal, code string) (int64, error) {
	scale := 2
	if code = strings.TrimSpace(code); code != "" {
		unit, err := currency.ParseISO(code)
		if err != nil {
			return 0, fmt.Errorf("stripe: currency %q: %w", code, err)
		}
		scale, _ = currency.Standard.Rounding(unit)
	}
	return amount.Shift(int32(scale)).Round(0).IntPart(), nil
}
