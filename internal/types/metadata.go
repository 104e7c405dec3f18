package types

// Metadata is an opaque key-value mapping attached to usage events.
type Metadata map[string]string

// Copy returns a detached copy so stored metadata cannot be mutated
// through the caller's map.
func (m Metadata) Copy() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
