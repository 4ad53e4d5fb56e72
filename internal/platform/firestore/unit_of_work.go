package firestore

import "context"

// UnitOfWork groups the repository calls of one ticket operation into a single Firestore
// transaction. Nested calls join the outer transaction.
type UnitOfWork struct {
	provider *Provider
	opts     []TxOption
}

// NewUnitOfWork constructs a UnitOfWork bound to the provider.
func NewUnitOfWork(provider *Provider, opts ...TxOption) *UnitOfWork {
	return &UnitOfWork{provider: provider, opts: opts}
}

// RunInTx executes fn inside a transaction.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	var provider *Provider
	var opts []TxOption
	if u != nil {
		provider, opts = u.provider, u.opts
	}
	return provider.InTx(ctx, fn, opts...)
}
