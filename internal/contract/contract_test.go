package contract

import (
	"errors"
	"testing"

	"github.com/consensys/gnark/test"
)

func TestKeyEncoding(t *testing.T) {
	sk, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey failed: %v", err)
	}

	t.Run("private key round trip", func(t *testing.T) {
		parsed, err := ParsePrivateKey(sk.String())
		if err != nil {
			t.Fatalf("ParsePrivateKey failed: %v", err)
		}
		if parsed.Scalar() != sk.Scalar() {
			t.Errorf("scalar mismatch after round trip")
		}
	})

	t.Run("address round trip", func(t *testing.T) {
		pk := sk.PublicKey()
		parsed, err := ParseAddress(pk.Address())
		if err != nil {
			t.Fatalf("ParseAddress failed: %v", err)
		}
		if parsed.String() != pk.String() {
			t.Errorf("public key mismatch after round trip")
		}
	})

	t.Run("version bytes are not interchangeable", func(t *testing.T) {
		if _, err := ParseAddress(sk.String()); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("expected ErrInvalidAddress for a private key, got %v", err)
		}
		if _, err := ParsePrivateKey(sk.PublicKey().Address()); !errors.Is(err, ErrInvalidPrivateKey) {
			t.Errorf("expected ErrInvalidPrivateKey for an address, got %v", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		for _, s := range []string{"", "0OIl", "abc"} {
			if _, err := ParseAddress(s); err == nil {
				t.Errorf("ParseAddress(%q) should fail", s)
			}
		}
	})
}

func TestHashMessage(t *testing.T) {
	a := HashMessage("hello")
	b := HashMessage("hello")
	c := HashMessage("hellp")
	if !a.Equal(&b) {
		t.Error("HashMessage is not deterministic")
	}
	if a.Equal(&c) {
		t.Error("different messages hashed to the same element")
	}
}

func TestParseField(t *testing.T) {
	if _, err := ParseField("15"); err != nil {
		t.Fatalf("ParseField failed: %v", err)
	}
	for _, s := range []string{"-1", "x", "", ScalarField().String()} {
		if _, err := ParseField(s); err == nil {
			t.Errorf("ParseField(%q) should fail", s)
		}
	}
}

func TestPublishMessageCircuit(t *testing.T) {
	sk, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("GeneratePrivateKey failed: %v", err)
	}

	call, err := Message.Invoke(PublishMessage, []string{"gm zk", sk.String()})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if err := test.IsSolved(&CircuitPublishMessage{}, call.Assignment, ScalarField()); err != nil {
		t.Fatalf("honest witness not accepted: %v", err)
	}

	t.Run("wrong key", func(t *testing.T) {
		other, _ := GeneratePrivateKey()
		bad := *call.Assignment.(*CircuitPublishMessage)
		bad.Sk = other.Scalar()
		if err := test.IsSolved(&CircuitPublishMessage{}, &bad, ScalarField()); err == nil {
			t.Error("witness with foreign key should not be accepted")
		}
	})

	t.Run("state updates", func(t *testing.T) {
		if len(call.Updates) != 2 {
			t.Fatalf("expected 2 state updates, got %d", len(call.Updates))
		}
		state := EmptyState()
		for _, u := range call.Updates {
			state[u.Index] = u.Value
		}
		decoded, err := Message.DecodeState(state)
		if err != nil {
			t.Fatalf("DecodeState failed: %v", err)
		}
		if decoded["publisher"] != sk.PublicKey().Address() {
			t.Errorf("publisher = %q, want %q", decoded["publisher"], sk.PublicKey().Address())
		}
		msg := HashMessage("gm zk")
		if decoded["message"] != msg.String() {
			t.Errorf("message = %q, want %q", decoded["message"], msg.String())
		}
	})

	t.Run("empty message", func(t *testing.T) {
		if _, err := Message.Invoke(PublishMessage, []string{"", sk.String()}); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("expected ErrEmptyMessage, got %v", err)
		}
	})

	t.Run("bad key", func(t *testing.T) {
		if _, err := Message.Invoke(PublishMessage, []string{"hi", "not-a-key"}); !errors.Is(err, ErrInvalidPrivateKey) {
			t.Errorf("expected ErrInvalidPrivateKey, got %v", err)
		}
	})
}

func TestAddCircuit(t *testing.T) {
	call, err := Add.Invoke(AddMethod, []string{"5", "10"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if call.PublicInputs[0] != "15" {
		t.Errorf("sum = %s, want 15", call.PublicInputs[0])
	}
	if err := test.IsSolved(&CircuitAdd{}, call.Assignment, ScalarField()); err != nil {
		t.Fatalf("honest witness not accepted: %v", err)
	}
	if err := test.IsSolved(&CircuitAdd{}, &CircuitAdd{Sum: 16, A: 5, B: 10}, ScalarField()); err == nil {
		t.Error("wrong sum should not be accepted")
	}
}

func TestLookup(t *testing.T) {
	d, err := Lookup(MessageContract)
	if err != nil || d != Message {
		t.Fatalf("Lookup(Message) = %v, %v", d, err)
	}
	if _, err := Lookup("Nope"); !errors.Is(err, ErrUnknownContract) {
		t.Errorf("expected ErrUnknownContract, got %v", err)
	}

	_, err = Message.Invoke("transfer", nil)
	var mnf *MethodNotFoundError
	if !errors.As(err, &mnf) || mnf.Method != "transfer" {
		t.Errorf("expected MethodNotFoundError, got %v", err)
	}
}
