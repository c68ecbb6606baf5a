package model

// Credential methods. Every admitted request resolves to exactly one.
const (
	MethodAPIKey    = "api_key"
	MethodSignature = "signature"
	MethodSession   = "session"
)

// Identity is the resolved caller of an authenticated request. It carries
// everything downstream gates need: the quota subject, the tier, and the
// permission set.
type Identity struct {
	SubjectID   string   `json:"subject_id"`
	OrgID       string   `json:"org_id,omitempty"`
	KeyID       string   `json:"key_id,omitempty"`
	Method      string   `json:"method"`
	Tier        Tier     `json:"tier,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Admin       bool     `json:"admin,omitempty"`
}

// Can reports whether the identity holds the exact permission token.
// Checks are exact string membership; there is no permission hierarchy.
func (id *Identity) Can(perm string) bool {
	for _, p := range id.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
