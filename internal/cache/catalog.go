package cache

import (
	"context"
	"encoding/json"
	"time"

	"kiloba_back_end/internal/database"
	"kiloba_back_end/internal/models"
)

const ProductCacheTTL = 10 * time.Minute

// CatalogSource — vue produits avec cache Redis devant le keyspace catalog.
// C'est la source branchée sur le ledger de commandes : le prix lu ici est
// celui figé dans la commande.
type CatalogSource struct{}

func NewCatalogSource() *CatalogSource {
	return &CatalogSource{}
}

func (c *CatalogSource) GetProduct(_ context.Context, productID string) (models.Product, error) {
	key := "product:" + productID

	// 1. Essayer le cache Redis
	if data, err := RedisClient.Get(ctx, key).Result(); err == nil {
		var p models.Product
		if json.Unmarshal([]byte(data), &p) == nil {
			return p, nil
		}
	}

	// 2. Récupérer de ScyllaDB
	session, err := database.GetCatalogSession()
	if err != nil {
		return models.Product{}, err
	}

	p := models.Product{ID: productID}
	err = session.Query(`SELECT seller_id, name, unit_price, currency, active
		FROM products WHERE product_id = ?`, productID).Scan(
		&p.SellerID, &p.Name, &p.UnitPrice, &p.Currency, &p.Active)
	if err != nil {
		return models.Product{}, err
	}

	// 3. Mettre en cache
	jsonData, _ := json.Marshal(p)
	RedisClient.Set(ctx, key, jsonData, ProductCacheTTL)

	return p, nil
}

// InvalidateProductCache invalide le cache d'un produit
func InvalidateProductCache(productID string) {
	RedisClient.Del(ctx, "product:"+productID)
}
