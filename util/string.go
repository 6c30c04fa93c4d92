package util

func BoolPtr(b bool) *bool {
	return &b
}

// BoolValue dereferences b, falling back to def when b is nil.
func BoolValue(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
