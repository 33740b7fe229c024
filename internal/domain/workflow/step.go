package workflow

// Step is one non-terminal state of a chain and the roles allowed to advance out of it
type Step struct {
	State         State
	RequiredRoles []Role
	// Exclusive disables the CEO override for this step
	Exclusive bool
	// RequiredPayload lists payload keys the caller must supply to leave the step
	RequiredPayload []string
	// BatchLevel marks the step advanced by the day-level batch submit of that level
	BatchLevel BatchLevel
	// BatchOnly steps cannot be advanced by a single-document approve
	BatchOnly bool
}

// Authorizes reports whether role may approve or reject a document in this step.
// Admin always passes; CEO passes unless the step is exclusive.
func (s Step) Authorizes(role Role) bool {
	if role.Equal(RoleAdmin) {
		return true
	}
	if role.Equal(RoleCEO) && !s.Exclusive {
		return true
	}
	for _, r := range s.RequiredRoles {
		if r.Equal(role) {
			return true
		}
	}
	return false
}

// MissingPayload returns the first required key absent or empty in payload
func (s Step) MissingPayload(payload map[string]interface{}) (string, bool) {
	for _, key := range s.RequiredPayload {
		v, ok := payload[key]
		if !ok || v == nil {
			return key, true
		}
		if str, isStr := v.(string); isStr && str == "" {
			return key, true
		}
	}
	return "", false
}
