package core

import "slices"

// MatchesCriteria reports whether a user context satisfies targeting criteria.
// All specified criteria are conjunctive; a nil criteria matches everyone.
// Registration-date bounds are strict: the user must have registered strictly
// after RegisteredAfter and strictly before RegisteredBefore.
func MatchesCriteria(criteria *AttributeCriteria, user UserContext) bool {
	if criteria == nil {
		return true
	}

	if len(criteria.Roles) > 0 && !slices.Contains(criteria.Roles, user.Role) {
		return false
	}

	if len(criteria.Plans) > 0 && !slices.Contains(criteria.Plans, user.Plan) {
		return false
	}

	if criteria.RegisteredAfter != nil && !user.RegistrationDate.After(*criteria.RegisteredAfter) {
		return false
	}

	if criteria.RegisteredBefore != nil && !user.RegistrationDate.Before(*criteria.RegisteredBefore) {
		return false
	}

	return true
}
