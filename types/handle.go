package types

// Handle identifies a resource realized in the control plane.
// Dependents read it to fill in their own inputs.
type Handle struct {
	Kind Kind `json:"kind"`
	// Name is the fully-qualified name the control plane knows the resource by.
	Name       string            `json:"name"`
	ID         string            `json:"id"`
	ARN        string            `json:"arn,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Attr returns an attribute or "" when unset
func (h Handle) Attr(key string) string {
	if h.Attributes == nil {
		return ""
	}
	return h.Attributes[key]
}

// IsZero reports whether the handle was never filled in
func (h Handle) IsZero() bool {
	return h.ID == "" && h.Name == "" && h.ARN == ""
}
