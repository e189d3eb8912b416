package profiles

const (
	RoleFarmer = "farmer"
	RoleBuyer  = "buyer"
	RoleTrader = "trader"
	RoleAdmin  = "admin"
)

// Profile is the read-only snapshot chat uses to decorate conversations and presence.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"-"`
	Role        string `json:"role"`
	AvatarURL   string `json:"avatar_url"`
	District    string `json:"district"`
	State       string `json:"state"`
}

// Location formats district and state the way conversation headers show them.
func (p Profile) Location() string {
	switch {
	case p.District != "" && p.State != "":
		return p.District + ", " + p.State
	case p.District != "":
		return p.District
	default:
		return p.State
	}
}
