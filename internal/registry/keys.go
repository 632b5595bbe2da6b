package registry

var (
	chanNamePrefix = []byte("chan/name/")
	chanIDPrefix   = []byte("chan/id/")
)

// chanNameKey builds the primary row key, keyed by pattern. Lexicographic
// key order under this prefix is the stable tie-break order for wildcard
// resolution.
func chanNameKey(pattern string) []byte {
	k := make([]byte, 0, len(chanNamePrefix)+len(pattern))
	k = append(k, chanNamePrefix...)
	k = append(k, pattern...)
	return k
}

// chanIDKey builds the id index key, mapping channel id to pattern.
func chanIDKey(id string) []byte {
	k := make([]byte, 0, len(chanIDPrefix)+len(id))
	k = append(k, chanIDPrefix...)
	k = append(k, id...)
	return k
}
