// Package identity carries the resolved caller handed down by the
// authentication layer. The core never checks credentials, only role
// and ownership.
package identity

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRestaurant Role = "restaurant"
	RoleCourier    Role = "courier"
	RoleAdmin      Role = "admin"
)

type Principal struct {
	ID   string
	Role Role
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// Owns reports whether the principal is the given subject id under the
// given role, or an admin.
func (p Principal) Owns(role Role, id string) bool {
	if p.IsAdmin() {
		return true
	}
	return p.Role == role && p.ID == id
}
