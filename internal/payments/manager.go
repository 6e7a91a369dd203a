// Package payments confirms that a checkout's transaction reference was actually settled by the
// payment gateway before the order is accepted.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/NagabhushanAdiga/shop-e/internal/domain"
	"github.com/NagabhushanAdiga/shop-e/internal/services"
)

// ErrUnsupportedMethod is returned when no verifier is registered for a payment method.
// It matches services.ErrPaymentUnverifiable so checkout leaves such payments pending.
var ErrUnsupportedMethod = fmt.Errorf("payments: unsupported payment method: %w", services.ErrPaymentUnverifiable)

// Manager routes verification requests to the verifier registered for the payment method.
type Manager struct {
	verifiers       map[domain.PaymentMethod]services.PaymentVerifier
	defaultVerifier services.PaymentVerifier
}

var _ services.PaymentVerifier = (*Manager)(nil)

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultVerifier handles methods that have no explicit route.
func WithDefaultVerifier(verifier services.PaymentVerifier) ManagerOption {
	return func(m *Manager) {
		m.defaultVerifier = verifier
	}
}

// NewManager constructs a Manager over the supplied verifiers keyed by payment method.
func NewManager(verifiers map[domain.PaymentMethod]services.PaymentVerifier, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{verifiers: make(map[domain.PaymentMethod]services.PaymentVerifier, len(verifiers))}
	for method, verifier := range verifiers {
		key := method.Normalize()
		if key == "" || verifier == nil {
			return nil, fmt.Errorf("payments: invalid verifier registration for method %q", method)
		}
		m.verifiers[key] = verifier
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if len(m.verifiers) == 0 && m.defaultVerifier == nil {
		return nil, errors.New("payments: at least one verifier is required")
	}
	return m, nil
}

// VerifyPayment delegates to the resolved verifier.
func (m *Manager) VerifyPayment(ctx context.Context, details services.PaymentDetails) (bool, error) {
	if m == nil {
		return false, errors.New("payments: manager is nil")
	}
	if strings.TrimSpace(details.TransactionID) == "" {
		return false, errors.New("payments: transaction id is required")
	}
	verifier, err := m.resolve(details.Method)
	if err != nil {
		return false, err
	}
	return verifier.VerifyPayment(ctx, details)
}

func (m *Manager) resolve(method domain.PaymentMethod) (services.PaymentVerifier, error) {
	if verifier, ok := m.verifiers[method.Normalize()]; ok {
		return verifier, nil
	}
	if m.defaultVerifier != nil {
		return m.defaultVerifier, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
}
