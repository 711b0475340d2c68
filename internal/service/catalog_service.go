package service

import (
	"context"

	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
	"storefront-service/internal/pricing"
	"storefront-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CatalogService is the thin catalog surface the core relies on: product
// reads and discount-validated writes followed by an explicit category
// counter recomputation.
type CatalogService struct {
	catalog CatalogStore
	logger  *zap.Logger
}

func NewCatalogService(catalog CatalogStore) *CatalogService {
	return &CatalogService{
		catalog: catalog,
		logger:  util.Component("catalog"),
	}
}

// GetProduct returns the product or PRODUCT_NOT_FOUND.
func (s *CatalogService) GetProduct(ctx context.Context, productID int64) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.GetProduct", attribute.Int64("product_id", productID))
	defer span.End()

	if err := validateProductID(productID); err != nil {
		return nil, err
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		s.logger.Error("Failed to load product", zap.Int64("product_id", productID), zap.Error(err))
		return nil, apperr.Internal(err, "failed to load product")
	}
	if product == nil {
		return nil, apperr.ProductNotFound(productID)
	}
	return product, nil
}

// UpdateProduct applies a partial update. The discount invariants are checked
// against the resulting price, so a price cut that would leave a fixed
// discount larger than the price is rejected.
func (s *CatalogService) UpdateProduct(ctx context.Context, productID int64, patch models.ProductPatch) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "CatalogService.UpdateProduct", attribute.Int64("product_id", productID))
	defer span.End()

	current, err := s.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	updated := patch.Apply(*current)
	if updated.Stock != nil && *updated.Stock < 0 {
		return nil, apperr.Validation("stock must not be negative")
	}
	if updated.DiscountValue.Valid != (updated.DiscountType != nil) {
		return nil, apperr.Validation("discount value and discount type must be set together")
	}
	if err := pricing.ValidateDiscount(updated.Price, updated.Discount()); err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}

	if err := s.catalog.UpdateProduct(ctx, &updated); err != nil {
		s.logger.Error("Failed to update product", zap.Int64("product_id", productID), zap.Error(err))
		return nil, apperr.Internal(err, "failed to update product")
	}

	s.recompute(ctx, current.CategoryID)
	if updated.CategoryID != nil && (current.CategoryID == nil || *current.CategoryID != *updated.CategoryID) {
		s.recompute(ctx, updated.CategoryID)
	}

	return &updated, nil
}

// recompute refreshes derived counters for a category. Failures are logged;
// counters are derived data and the product write already committed.
func (s *CatalogService) recompute(ctx context.Context, categoryID *int64) {
	if categoryID == nil {
		return
	}
	counters, err := s.catalog.RecomputeCategoryCounters(ctx, *categoryID)
	if err != nil {
		s.logger.Error("Failed to recompute category counters",
			zap.Int64("category_id", *categoryID),
			zap.Error(err))
		return
	}
	s.logger.Debug("Category counters recomputed",
		zap.Int64("category_id", counters.CategoryID),
		zap.Int("product_count", counters.ProductCount),
		zap.Int("stock_total", counters.StockTotal))
}
