package engine

import (
	"fmt"

	"github.com/fortiblox/X1-Bastion/internal/types"
)

// View is a validated, typed handle on an account. Record is a decoded copy:
// changes reach the account only through Save.
type View[T any] struct {
	account  *Account
	rt       *RecordType
	writable bool

	Record *T
}

// Address returns the account address.
func (v *View[T]) Address() types.Pubkey {
	return v.account.Address
}

// Lamports returns the account balance.
func (v *View[T]) Lamports() uint64 {
	return v.account.Lamports
}

// Account returns the underlying account.
func (v *View[T]) Account() *Account {
	return v.account
}

// Type returns the record type the view was validated against.
func (v *View[T]) Type() *RecordType {
	return v.rt
}

// Save serializes Record back into the account body. The discriminator is
// never rewritten here, and it must still be the view's: a closed or
// retyped account keeps its buffer.
func (v *View[T]) Save() error {
	if !v.writable || !v.account.IsWritable {
		return fmt.Errorf("%w: %s", ErrNotWritable, v.account.Address)
	}
	if len(v.account.Data) != v.rt.Size {
		return fmt.Errorf("%w: %s resized to %d bytes", ErrMalformed, v.account.Address, len(v.account.Data))
	}
	switch disc, _ := v.account.Discriminator(); disc {
	case v.rt.Discriminator:
	case ClosedDiscriminator:
		return fmt.Errorf("%w: %s", ErrAlreadyClosed, v.account.Address)
	default:
		return fmt.Errorf("%w: %s no longer holds %s", ErrTypeMismatch, v.account.Address, v.rt.Name)
	}
	buf, err := encodeRecord(v.Record)
	if err != nil {
		return err
	}
	if len(buf) != v.rt.BodySize() {
		return fmt.Errorf("%w: %s encodes to %d bytes, layout has %d", ErrMalformed, v.rt.Name, len(buf), v.rt.BodySize())
	}
	copy(v.account.Data[DiscriminatorSize:], buf)
	return nil
}

// Close closes the viewed account into destination. The view must not be
// used afterwards.
func (v *View[T]) Close(destination *Account, ctx *TxContext) error {
	return Close(v.account, destination, ctx)
}
