package wallet

import "errors"

// Issues métier explicites — les appelants branchent dessus avec errors.Is,
// jamais sur le texte du message.
var (
	ErrInsufficientFunds  = errors.New("solde insuffisant")
	ErrNotFound           = errors.New("wallet ou transaction introuvable")
	ErrConflict           = errors.New("conflit d'écriture wallet, réessais épuisés")
	ErrInvalidAmount      = errors.New("montant invalide")
	ErrDuplicateReference = errors.New("référence de financement déjà utilisée")
)
