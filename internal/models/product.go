package models

// Product — vue minimale du catalogue, suffisante pour valider une commande.
// Le catalogue complet vit dans un autre service ; seul actif/prix nous importe.
type Product struct {
	ID        string `json:"id" db:"product_id"`
	SellerID  string `json:"seller_id" db:"seller_id"`
	Name      string `json:"name" db:"name"`
	UnitPrice int64  `json:"unit_price" db:"unit_price"` // centimes
	Currency  string `json:"currency" db:"currency"`
	Active    bool   `json:"active" db:"active"`
}
