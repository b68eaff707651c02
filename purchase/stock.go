package purchase

import (
	"context"
	"errors"
	"time"

	"github.com/warp/payroll-engine/generic"
)

// StockLevel is on-hand quantity of one product at one location. An empty
// ShopID is the tenant's central stock.
type StockLevel struct {
	TenantID  generic.TenantID `json:"tenant_id"`
	ShopID    generic.ShopID   `json:"shop_id,omitempty"`
	ProductID string           `json:"product_id"`
	Quantity  int64            `json:"quantity"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func stockKey(tenant generic.TenantID, shop generic.ShopID, product string) string {
	return string(tenant) + "/" + string(shop) + "/" + product
}

func getStock(ctx context.Context, s generic.DocumentStore, tenant generic.TenantID, shop generic.ShopID, product string) (StockLevel, int64, error) {
	level := StockLevel{TenantID: tenant, ShopID: shop, ProductID: product}
	version, err := generic.GetJSON(ctx, s, generic.KindStockLevel, stockKey(tenant, shop, product), &level)
	if errors.Is(err, generic.ErrNotFound) {
		return level, 0, nil
	}
	return level, version, err
}

// adjustStock applies delta. A result below zero fails with a ValidationError.
func adjustStock(ctx context.Context, s generic.DocumentStore, tenant generic.TenantID, shop generic.ShopID, product string, delta int64, at time.Time) error {
	level, version, err := getStock(ctx, s, tenant, shop, product)
	if err != nil {
		return err
	}
	if level.Quantity+delta < 0 {
		return generic.Invalid("items", "insufficient stock for %s: have %d, need %d", product, level.Quantity, -delta)
	}
	level.Quantity += delta
	level.UpdatedAt = at
	_, err = generic.PutJSON(ctx, s, generic.KindStockLevel, stockKey(tenant, shop, product), version, level)
	return err
}
