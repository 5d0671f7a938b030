package models

// Rôles plateforme — ensemble fermé, vérifié une seule fois à la frontière API.
// Les composants métier reçoivent un rôle déjà résolu, jamais une chaîne libre.
const (
	RoleBuyer    = "buyer"
	RoleSeller   = "seller"
	RoleCourier  = "courier"
	RoleMotoTaxi = "moto_taxi"
	RoleFreight  = "freight"
	RoleAdmin    = "admin"
)

// DeliveryRoles — rôles autorisés à scanner un QR de pickup
var DeliveryRoles = map[string]bool{
	RoleCourier:  true,
	RoleMotoTaxi: true,
	RoleFreight:  true,
}

// ValidRole vérifie qu'un rôle appartient à l'ensemble fermé
func ValidRole(role string) bool {
	switch role {
	case RoleBuyer, RoleSeller, RoleCourier, RoleMotoTaxi, RoleFreight, RoleAdmin:
		return true
	}
	return false
}

// IsDeliveryRole indique si le rôle peut effectuer une prise en charge
func IsDeliveryRole(role string) bool {
	return DeliveryRoles[role]
}
