package commission

import (
	"errors"
	"fmt"
)

// Tous les montants sont en centimes (point fixe), les taux en points de base
// (1% = 100 bps). Jamais de flottant sur la monnaie.

var ErrInvalidAmount = errors.New("montant ou taux invalide")

// Amounts — montants calculés d'une commande. Chaque champ est arrondi une
// seule fois ; le total est la somme exacte subtotal + platform_fee, jamais
// re-dérivé par soustraction.
type Amounts struct {
	Subtotal            int64 `json:"subtotal"`
	PlatformFee         int64 `json:"platform_fee"`
	AffiliateCommission int64 `json:"affiliate_commission"`
	Total               int64 `json:"total"`
	SellerNet           int64 `json:"seller_net"` // total - platform_fee = subtotal
	PlatformNet         int64 `json:"platform_net"` // platform_fee - affiliate_commission
}

// roundBps applique un taux en bps avec arrondi au centime supérieur à 0.5
func roundBps(amount int64, bps int64) int64 {
	return (amount*bps + 5000) / 10000
}

// Compute calcule la répartition commission plateforme / commission affilié /
// net vendeur pour un sous-total donné.
//   - platformFeeBps : part de la plateforme sur le sous-total
//   - affiliateShareBps : part de l'affilié sur la commission plateforme
//     (0 si aucun affilié n'est rattaché à la commande)
func Compute(subtotal int64, platformFeeBps, affiliateShareBps int) (Amounts, error) {
	if subtotal <= 0 {
		return Amounts{}, fmt.Errorf("%w: subtotal=%d", ErrInvalidAmount, subtotal)
	}
	if platformFeeBps < 0 || platformFeeBps > 10000 {
		return Amounts{}, fmt.Errorf("%w: platformFeeBps=%d", ErrInvalidAmount, platformFeeBps)
	}
	if affiliateShareBps < 0 || affiliateShareBps > 10000 {
		return Amounts{}, fmt.Errorf("%w: affiliateShareBps=%d", ErrInvalidAmount, affiliateShareBps)
	}

	fee := roundBps(subtotal, int64(platformFeeBps))
	affiliate := roundBps(fee, int64(affiliateShareBps))

	return Amounts{
		Subtotal:            subtotal,
		PlatformFee:         fee,
		AffiliateCommission: affiliate,
		Total:               subtotal + fee,
		SellerNet:           subtotal,
		PlatformNet:         fee - affiliate,
	}, nil
}
