package fingerprint

// PackHashable is satisfied by any value that can report its own
// content-hash-excluded projection — i.e. itself, with the ContentHash
// field zeroed, so hashing doesn't hash its own output.
type PackHashable interface {
	WithoutContentHash() any
}

// PackContentHash computes spec.md §3's pack invariant:
// content_hash = sha256(canonical_json(pack_without_hash)).
func PackContentHash(p PackHashable) (string, error) {
	encoded, err := CanonicalJSON(p.WithoutContentHash())
	if err != nil {
		return "", err
	}
	return ContentHash(encoded), nil
}
