package orders

import "errors"

var (
	ErrOrderNotFound  = errors.New("commande introuvable")
	ErrInvalidItems   = errors.New("articles invalides ou produit inactif")
	ErrSellerMismatch = errors.New("les articles ne proviennent pas tous du même vendeur")
	ErrWrongStage     = errors.New("transition d'état non autorisée pour cette commande")
	ErrForbidden      = errors.New("acteur non autorisé sur cette commande")
)
