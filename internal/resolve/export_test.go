package resolve

// SetLookupForTest overrides the resolver's underlying net lookup, for use
// by external tests in this package only.
func SetLookupForTest(r *Resolver, lookup netResolver) {
	r.lookup = lookup
}
