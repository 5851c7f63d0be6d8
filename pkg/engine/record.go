package engine

import (
	"crypto/sha256"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/near/borsh-go"

	"github.com/fortiblox/X1-Bastion/internal/types"
)

// DiscriminatorSize is the width of the record type tag prefixing typed data.
const DiscriminatorSize = 8

// Discriminator identifies a record type.
type Discriminator [DiscriminatorSize]byte

var (
	// UninitializedDiscriminator marks freshly allocated, zero-filled data.
	UninitializedDiscriminator = Discriminator{}

	// ClosedDiscriminator is the tombstone written by Close. It matches no
	// record type.
	ClosedDiscriminator = Discriminator{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

// AccountDiscriminator returns sha256("account:" + name)[:8], the tag Anchor
// derives for a record type.
func AccountDiscriminator(name string) Discriminator {
	return sha256First8("account:" + name)
}

// InstructionDiscriminator returns sha256("global:" + name)[:8], the
// instruction selector prefixing instruction data.
func InstructionDiscriminator(name string) Discriminator {
	return sha256First8("global:" + name)
}

func sha256First8(s string) Discriminator {
	h := sha256.Sum256([]byte(s))
	var d Discriminator
	copy(d[:], h[:DiscriminatorSize])
	return d
}

// String returns the hex form.
func (d Discriminator) String() string {
	return fmt.Sprintf("%x", d[:])
}

// RecordType is a named fixed-layout schema.
type RecordType struct {
	Name          string
	Discriminator Discriminator

	// Size is the full data length: discriminator plus body.
	Size int
}

// BodySize returns the serialized size of the fields after the discriminator.
func (rt *RecordType) BodySize() int {
	return rt.Size - DiscriminatorSize
}

// LifecycleState is the state of an account's data, derived from its
// discriminator.
type LifecycleState uint8

// Lifecycle states.
const (
	StateUninitialized LifecycleState = iota
	StateInitialized
	StateClosed
)

// String returns the state name.
func (s LifecycleState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// StateOf derives the lifecycle state. Any non-zero, non-tombstone
// discriminator counts as initialized, registered or not.
func StateOf(a *Account) LifecycleState {
	d, ok := a.Discriminator()
	switch {
	case !ok || d == UninitializedDiscriminator:
		return StateUninitialized
	case d == ClosedDiscriminator:
		return StateClosed
	default:
		return StateInitialized
	}
}

// Registry maps record types to discriminators. Collisions are rejected when
// a type is defined, not when an account is read.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*RecordType
	byDisc map[Discriminator]*RecordType
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*RecordType),
		byDisc: make(map[Discriminator]*RecordType),
	}
}

// Register defines a record type with the Anchor-style discriminator for name.
func (r *Registry) Register(name string, size int) (*RecordType, error) {
	return r.RegisterDiscriminator(name, AccountDiscriminator(name), size)
}

// RegisterDiscriminator defines a record type with an explicit discriminator.
func (r *Registry) RegisterDiscriminator(name string, disc Discriminator, size int) (*RecordType, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty record name", ErrInvalidArgument)
	}
	if size < DiscriminatorSize {
		return nil, fmt.Errorf("%w: record %q size %d below discriminator size", ErrInvalidArgument, name, size)
	}
	if disc == UninitializedDiscriminator || disc == ClosedDiscriminator {
		return nil, fmt.Errorf("%w: record %q uses a reserved discriminator", ErrInvalidArgument, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; ok {
		return nil, fmt.Errorf("%w: record %q already registered", ErrInvalidArgument, name)
	}
	if other, ok := r.byDisc[disc]; ok {
		return nil, fmt.Errorf("%w: discriminator %s of %q collides with %q", ErrInvalidArgument, disc, name, other.Name)
	}

	rt := &RecordType{Name: name, Discriminator: disc, Size: size}
	r.byName[name] = rt
	r.byDisc[disc] = rt
	return rt, nil
}

// Lookup returns the record type for a discriminator.
func (r *Registry) Lookup(disc Discriminator) (*RecordType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.byDisc[disc]
	return rt, ok
}

// LookupName returns the record type registered under name.
func (r *Registry) LookupName(name string) (*RecordType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.byName[name]
	return rt, ok
}

// Types returns all registered record types sorted by name.
func (r *Registry) Types() []*RecordType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*RecordType, 0, len(r.byName))
	for _, rt := range r.byName {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Identify returns the registered type of an account's data, if any.
func (r *Registry) Identify(a *Account) (*RecordType, bool) {
	d, ok := a.Discriminator()
	if !ok {
		return nil, false
	}
	return r.Lookup(d)
}

// Schema binds the Go struct T to a registered record type. T's fields are
// laid out with borsh and must all be fixed width.
type Schema[T any] struct {
	rt *RecordType
}

// NewSchema registers name in reg with the layout of T.
func NewSchema[T any](reg *Registry, name string) (*Schema[T], error) {
	var zero T
	if err := checkFixedLayout(reflect.TypeOf(zero)); err != nil {
		return nil, fmt.Errorf("record %q: %w", name, err)
	}
	body, err := borsh.Serialize(zero)
	if err != nil {
		return nil, fmt.Errorf("record %q: %w", name, err)
	}
	rt, err := reg.Register(name, DiscriminatorSize+len(body))
	if err != nil {
		return nil, err
	}
	return &Schema[T]{rt: rt}, nil
}

// MustSchema is NewSchema that panics. Only use for package-level programs.
func MustSchema[T any](reg *Registry, name string) *Schema[T] {
	s, err := NewSchema[T](reg, name)
	if err != nil {
		panic(err)
	}
	return s
}

// Type returns the schema's record type.
func (s *Schema[T]) Type() *RecordType {
	return s.rt
}

// As interprets account as T. Checks run in a fixed order: owner, then
// discriminator, then length. Skipping the first admits accounts of another
// program with the same layout; skipping the second admits another record
// type with a compatible prefix.
func (s *Schema[T]) As(account *Account, expectedOwner types.Pubkey) (*View[T], error) {
	if account.Owner != expectedOwner {
		return nil, fmt.Errorf("%w: %s owned by %s", ErrOwnerMismatch, account.Address, account.Owner)
	}
	disc, ok := account.Discriminator()
	if !ok || disc != s.rt.Discriminator {
		return nil, fmt.Errorf("%w: %s is not a %s", ErrTypeMismatch, account.Address, s.rt.Name)
	}
	if len(account.Data) != s.rt.Size {
		return nil, fmt.Errorf("%w: %s has %d bytes, %s needs %d", ErrMalformed, account.Address, len(account.Data), s.rt.Name, s.rt.Size)
	}
	rec, err := s.decode(account.Data[DiscriminatorSize:])
	if err != nil {
		return nil, err
	}
	return &View[T]{account: account, rt: s.rt, writable: account.IsWritable, Record: rec}, nil
}

func (s *Schema[T]) decode(body []byte) (*T, error) {
	rec := new(T)
	if err := borsh.Deserialize(rec, body); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrMalformed, s.rt.Name, err)
	}
	return rec, nil
}

func encodeRecord[T any](rec *T) ([]byte, error) {
	buf, err := borsh.Serialize(*rec)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrMalformed, err)
	}
	return buf, nil
}

// checkFixedLayout rejects kinds whose borsh encoding varies in length.
func checkFixedLayout(t reflect.Type) error {
	if t == nil {
		return fmt.Errorf("%w: nil record type", ErrInvalidArgument)
	}
	switch t.Kind() {
	case reflect.Bool, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return nil
	case reflect.Array:
		return checkFixedLayout(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				return fmt.Errorf("%w: field %s is unexported", ErrInvalidArgument, f.Name)
			}
			if err := checkFixedLayout(f.Type); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s is not fixed width", ErrInvalidArgument, t.Kind())
	}
}
