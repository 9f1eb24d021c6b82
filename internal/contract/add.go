// add.go - The Add contract used by the local deployment flow.

package contract

import (
	"github.com/consensys/gnark/frontend"
)

const (
	AddContract = "Add"
	AddMethod   = "add"
)

// CircuitAdd proves Sum = A + B without revealing the operands.
type CircuitAdd struct {
	Sum frontend.Variable `gnark:",public"`

	A frontend.Variable
	B frontend.Variable
}

func (c *CircuitAdd) Define(api frontend.API) error {
	api.AssertIsEqual(c.Sum, api.Add(c.A, c.B))
	return nil
}

// Add is the definition of the Add contract.
var Add = &Definition{
	Name: AddContract,
	State: []StateField{
		{Name: "sum", Index: 0, Kind: FieldRaw},
	},
	Methods: map[string]*Method{
		AddMethod: {
			Name:       AddMethod,
			NewCircuit: func() frontend.Circuit { return &CircuitAdd{} },
			Invoke:     invokeAdd,
			PublicAssignment: func(public []string) (frontend.Circuit, error) {
				if err := checkPublic(public, 1); err != nil {
					return nil, err
				}
				return &CircuitAdd{Sum: public[0]}, nil
			},
			Apply: func(public []string) ([]StateUpdate, error) {
				if err := checkPublic(public, 1); err != nil {
					return nil, err
				}
				return []StateUpdate{{Index: 0, Value: public[0]}}, nil
			},
		},
	},
}

func init() {
	Register(Add)
}

// args: a, b as decimal field elements.
func invokeAdd(args []string) (*Call, error) {
	if err := expectArgs(args, 2); err != nil {
		return nil, err
	}
	a, err := ParseField(args[0])
	if err != nil {
		return nil, err
	}
	b, err := ParseField(args[1])
	if err != nil {
		return nil, err
	}
	sum := a
	sum.Add(&sum, &b)
	return &Call{
		Assignment: &CircuitAdd{
			Sum: sum.String(),
			A:   a.String(),
			B:   b.String(),
		},
		PublicInputs: []string{sum.String()},
	}, nil
}
