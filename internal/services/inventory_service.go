package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/NagabhushanAdiga/shop-e/internal/repositories"
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Metrics  *Metrics
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	metrics  *Metrics
	logger   func(context.Context, string, map[string]any)
}

var _ InventoryService = (*inventoryService)(nil)

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = NoopMetrics()
	}

	return &inventoryService{
		products: deps.Products,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

func (s *inventoryService) CheckAvailability(ctx context.Context, lines []InventoryLine) (map[string]Product, error) {
	if err := validateInventoryLines(lines); err != nil {
		return nil, err
	}

	products := make(map[string]Product, len(lines))
	for _, line := range lines {
		if _, ok := products[line.ProductID]; ok {
			continue
		}
		product, err := s.products.FindByID(ctx, line.ProductID)
		if err != nil {
			return nil, s.mapRepositoryError(err, line)
		}
		products[line.ProductID] = product
	}

	// duplicate lines for the same product draw from one stock figure
	requested := make(map[string]int, len(products))
	for _, line := range lines {
		requested[line.ProductID] += line.Quantity
	}
	for _, line := range lines {
		product := products[line.ProductID]
		want := requested[line.ProductID]
		if want > product.Stock {
			s.metrics.InsufficientStock(ctx, product.ID)
			return nil, &InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Stock,
				Requested:   want,
			}
		}
	}
	return products, nil
}

func (s *inventoryService) Reserve(ctx context.Context, lines []InventoryLine) error {
	if err := validateInventoryLines(lines); err != nil {
		return err
	}

	reserved := make([]InventoryLine, 0, len(lines))
	for _, line := range lines {
		if _, err := s.products.AdjustStock(ctx, line.ProductID, -line.Quantity, line.Quantity); err != nil {
			s.compensate(ctx, reserved)
			var invErr *repositories.InventoryError
			if errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorInsufficientStock {
				s.metrics.InsufficientStock(ctx, line.ProductID)
			}
			return s.mapRepositoryError(err, line)
		}
		reserved = append(reserved, line)
	}
	return nil
}

func (s *inventoryService) Restore(ctx context.Context, lines []InventoryLine) error {
	if err := validateInventoryLines(lines); err != nil {
		return err
	}

	restored := make([]InventoryLine, 0, len(lines))
	for _, line := range lines {
		_, err := s.products.AdjustStock(ctx, line.ProductID, line.Quantity, -line.Quantity)
		if err == nil {
			restored = append(restored, line)
			continue
		}
		if isRepositoryNotFound(err) {
			s.logger(ctx, "inventory.restore.product_missing", map[string]any{
				"productId": line.ProductID,
				"quantity":  line.Quantity,
			})
			continue
		}
		// put back what was already returned so the caller sees all or nothing
		for i := len(restored) - 1; i >= 0; i-- {
			undo := restored[i]
			if _, undoErr := s.products.AdjustStock(ctx, undo.ProductID, -undo.Quantity, undo.Quantity); undoErr != nil {
				s.logger(ctx, "inventory.restore.undo_failed", map[string]any{
					"productId": undo.ProductID,
					"quantity":  undo.Quantity,
					"error":     undoErr.Error(),
				})
			}
		}
		return s.mapRepositoryError(err, line)
	}
	return nil
}

// compensate returns reserved lines in reverse order. Failures are logged because the caller is
// already returning the original error.
func (s *inventoryService) compensate(ctx context.Context, reserved []InventoryLine) {
	ctx = context.WithoutCancel(ctx)
	for i := len(reserved) - 1; i >= 0; i-- {
		line := reserved[i]
		if _, err := s.products.AdjustStock(ctx, line.ProductID, line.Quantity, -line.Quantity); err != nil {
			s.logger(ctx, "inventory.compensate.failed", map[string]any{
				"productId": line.ProductID,
				"quantity":  line.Quantity,
				"error":     err.Error(),
			})
		}
	}
}

func (s *inventoryService) mapRepositoryError(err error, line InventoryLine) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return &InsufficientStockError{
				ProductID:   line.ProductID,
				ProductName: line.Name,
				Available:   invErr.Available,
				Requested:   line.Quantity,
			}
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
		case repositories.InventoryErrorInvalidDelta:
			return fmt.Errorf("%w: %v", ErrInventoryInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: inventory: %v", ErrServiceUnavailable, err)
		}
	}
	return fmt.Errorf("inventory: %w", err)
}

func validateInventoryLines(lines []InventoryLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}
	bad, found := lo.Find(lines, func(line InventoryLine) bool {
		return strings.TrimSpace(line.ProductID) == "" || line.Quantity <= 0
	})
	if found {
		return fmt.Errorf("%w: invalid line for product %q quantity %d", ErrInventoryInvalidInput, bad.ProductID, bad.Quantity)
	}
	return nil
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
