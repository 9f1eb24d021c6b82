// message.go - The Message contract: publish a message bound to its publisher.

package contract

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

const (
	// MessageContract is the registry name of the Message contract.
	MessageContract = "Message"
	// PublishMessage is the only method of the Message contract.
	PublishMessage = "publishMessage"
)

// ErrEmptyMessage is returned when publishMessage receives blank text.
var ErrEmptyMessage = errors.New("message text is empty")

// CircuitPublishMessage proves knowledge of the key behind Publisher and
// binds that key to MessageHash.
type CircuitPublishMessage struct {
	MessageHash frontend.Variable `gnark:",public"`
	Publisher   frontend.Variable `gnark:",public"`
	Binding     frontend.Variable `gnark:",public"`

	Sk frontend.Variable
}

func (c *CircuitPublishMessage) Define(api frontend.API) error {
	api.AssertIsDifferent(c.MessageHash, 0)

	hasher, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}

	// pk = H(sk)
	hasher.Write(c.Sk)
	api.AssertIsEqual(c.Publisher, hasher.Sum())

	// binding = H(sk, message)
	hasher.Reset()
	hasher.Write(c.Sk)
	hasher.Write(c.MessageHash)
	api.AssertIsEqual(c.Binding, hasher.Sum())

	return nil
}

// Message is the definition of the Message contract.
var Message = &Definition{
	Name: MessageContract,
	State: []StateField{
		{Name: "message", Index: 0, Kind: FieldRaw},
		{Name: "publisher", Index: 1, Kind: FieldAddress},
	},
	Methods: map[string]*Method{
		PublishMessage: {
			Name:             PublishMessage,
			NewCircuit:       func() frontend.Circuit { return &CircuitPublishMessage{} },
			Invoke:           invokePublishMessage,
			PublicAssignment: publishMessagePublic,
			Apply:            applyPublishMessage,
		},
	},
}

func init() {
	Register(Message)
}

// args: message text, base58 private key.
func invokePublishMessage(args []string) (*Call, error) {
	if err := expectArgs(args, 2); err != nil {
		return nil, err
	}
	if args[0] == "" {
		return nil, ErrEmptyMessage
	}
	sk, err := ParsePrivateKey(args[1])
	if err != nil {
		return nil, err
	}

	msg := HashMessage(args[0])
	pub := sk.PublicKey()
	binding := MessageBinding(sk, msg)

	public := []string{msg.String(), pub.String(), binding.String()}
	return &Call{
		Assignment: &CircuitPublishMessage{
			MessageHash: public[0],
			Publisher:   public[1],
			Binding:     public[2],
			Sk:          sk.Scalar(),
		},
		PublicInputs: public,
	}, nil
}

func publishMessagePublic(public []string) (frontend.Circuit, error) {
	if err := checkPublic(public, 3); err != nil {
		return nil, err
	}
	return &CircuitPublishMessage{
		MessageHash: public[0],
		Publisher:   public[1],
		Binding:     public[2],
	}, nil
}

func applyPublishMessage(public []string) ([]StateUpdate, error) {
	if err := checkPublic(public, 3); err != nil {
		return nil, err
	}
	return []StateUpdate{
		{Index: 0, Value: public[0]},
		{Index: 1, Value: public[1]},
	}, nil
}

func checkPublic(public []string, n int) error {
	if len(public) != n {
		return fmt.Errorf("expected %d public inputs, got %d", n, len(public))
	}
	for i, p := range public {
		if _, err := ParseField(p); err != nil {
			return fmt.Errorf("public input %d: %w", i, err)
		}
	}
	return nil
}
