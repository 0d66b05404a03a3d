package repokit

// Binder binds a domain repo to a specific Queryer, usually the Queryer
// of the transaction the caller is inside
type Binder[T any] interface {
	Bind(Queryer) T
}

// RequireQueryer panics early on programmer error (nil q)
func RequireQueryer(q Queryer) Queryer {
	if q == nil {
		panic("repokit: nil Queryer")
	}
	return q
}

// MustBind validates q then binds
func MustBind[T any](b Binder[T], q Queryer) T {
	return b.Bind(RequireQueryer(q))
}
