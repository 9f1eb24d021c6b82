// definition.go - Contract definitions, methods and instances.

package contract

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/consensys/gnark/frontend"
)

// StateSize is the number of on-chain state slots every contract account has.
const StateSize = 8

// FieldKind controls how a state slot is rendered when decoded.
type FieldKind int

const (
	// FieldRaw renders the slot as a decimal field element.
	FieldRaw FieldKind = iota
	// FieldAddress renders the slot as a base58 address.
	FieldAddress
)

// StateField names one slot of a contract's on-chain state.
type StateField struct {
	Name  string
	Index int
	Kind  FieldKind
}

// StateUpdate sets slot Index to Value (decimal field element).
type StateUpdate struct {
	Index int    `json:"index"`
	Value string `json:"value"`
}

// Call is the result of invoking a method: the full witness assignment
// (private part included) and the public inputs it commits to.
type Call struct {
	Method       string
	Assignment   frontend.Circuit
	PublicInputs []string
	Updates      []StateUpdate
}

// Method is a provable entry point of a contract.
type Method struct {
	Name string

	// NewCircuit returns an empty circuit used for compilation.
	NewCircuit func() frontend.Circuit

	// Invoke turns caller arguments into a witness assignment.
	Invoke func(args []string) (*Call, error)

	// PublicAssignment rebuilds the public part of the witness from
	// public inputs, for verification.
	PublicAssignment func(public []string) (frontend.Circuit, error)

	// Apply derives the state updates implied by the public inputs.
	Apply func(public []string) ([]StateUpdate, error)
}

// Definition is a contract class: a name, a state layout and methods.
type Definition struct {
	Name    string
	State   []StateField
	Methods map[string]*Method
}

// Instance binds a definition to the address of a deployed account.
type Instance struct {
	Definition *Definition
	Address    PublicKey
}

// ErrUnknownContract is returned by Lookup for a name with no definition.
var ErrUnknownContract = errors.New("contract: unknown contract")

// MethodNotFoundError is returned when a contract has no method of the given name.
type MethodNotFoundError struct {
	Contract string
	Method   string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("contract %s has no method %q", e.Contract, e.Method)
}

// Method returns the named method.
func (d *Definition) Method(name string) (*Method, error) {
	m, ok := d.Methods[name]
	if !ok {
		return nil, &MethodNotFoundError{Contract: d.Name, Method: name}
	}
	return m, nil
}

// MethodNames returns the method names in sorted order.
func (d *Definition) MethodNames() []string {
	names := make([]string, 0, len(d.Methods))
	for name := range d.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke runs the named method and fills in its state updates.
func (d *Definition) Invoke(method string, args []string) (*Call, error) {
	m, err := d.Method(method)
	if err != nil {
		return nil, err
	}
	call, err := m.Invoke(args)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", d.Name, method, err)
	}
	call.Method = method
	updates, err := m.Apply(call.PublicInputs)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: failed to derive state updates: %w", d.Name, method, err)
	}
	call.Updates = updates
	return call, nil
}

// DecodeState renders raw account state using the definition's layout.
func (d *Definition) DecodeState(state []string) (map[string]string, error) {
	out := make(map[string]string, len(d.State))
	for _, f := range d.State {
		if f.Index >= len(state) {
			return nil, fmt.Errorf("state slot %d (%s) missing", f.Index, f.Name)
		}
		raw := state[f.Index]
		switch f.Kind {
		case FieldAddress:
			e, err := ParseField(raw)
			if err != nil {
				return nil, fmt.Errorf("state slot %s: %w", f.Name, err)
			}
			if e.IsZero() {
				out[f.Name] = ""
				continue
			}
			out[f.Name] = PublicKeyFromField(e).Address()
		default:
			if _, err := ParseField(raw); err != nil {
				return nil, fmt.Errorf("state slot %s: %w", f.Name, err)
			}
			out[f.Name] = raw
		}
	}
	return out, nil
}

// EmptyState returns a zeroed state vector.
func EmptyState() []string {
	s := make([]string, StateSize)
	for i := range s {
		s[i] = "0"
	}
	return s
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*Definition{}
)

// Register adds d to the registry, replacing any definition of the same name.
func Register(d *Definition) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Name] = d
}

// Lookup returns the definition registered under name.
func Lookup(name string) (*Definition, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownContract, name)
	}
	return d, nil
}

// Names lists the registered contract names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func expectArgs(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	return nil
}
