package policy

// Violation is one deny message produced by a policy
type Violation struct {
	Policy     string `json:"policy"`
	ResourceID string `json:"resource_id,omitempty"`
	Message    string `json:"message"`
}

func (v Violation) String() string {
	if v.ResourceID == "" {
		return v.Policy + ": " + v.Message
	}
	return v.Policy + ": " + v.ResourceID + ": " + v.Message
}
