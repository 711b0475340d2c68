package service

import (
	"storefront-service/internal/apperr"
	"storefront-service/internal/models"
)

// CheckAvailability validates a requested quantity of a single product
// against its availability flag and tracked stock. A nil product means the
// reference did not resolve.
//
// The check is advisory; the store's conditional decrement is what actually
// prevents overselling.
func CheckAvailability(product *models.Product, productID int64, quantity int) error {
	if product == nil {
		return apperr.ProductNotFound(productID)
	}
	if !product.Available {
		return apperr.ProductUnavailable(product.ID)
	}
	if product.StockTracked() && *product.Stock < quantity {
		return apperr.InsufficientStock(apperr.StockShortage{
			ProductID: product.ID,
			Requested: quantity,
			Available: *product.Stock,
		})
	}
	return nil
}

// checkLines runs the gate over every line and merges all stock shortages
// into one error. Not-found and unavailable products fail immediately.
func checkLines(products map[int64]*models.Product, lines []OrderItemRequest) error {
	var shortages []apperr.StockShortage
	for _, line := range lines {
		err := CheckAvailability(products[line.ProductID], line.ProductID, line.Quantity)
		if err == nil {
			continue
		}
		if e := apperr.From(err); e.Code == apperr.CodeInsufficientStock {
			shortages = append(shortages, e.Shortages...)
			continue
		}
		return err
	}
	if len(shortages) > 0 {
		return apperr.InsufficientStock(shortages...)
	}
	return nil
}
