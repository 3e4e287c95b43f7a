package opaque

import (
	"crypto/sha512"
	"io"

	"github.com/gtank/ristretto255"
)

// blind returns a fresh blinding scalar r and r·H(input).
func blind(input []byte, rnd io.Reader) (*ristretto255.Scalar, *ristretto255.Element, error) {
	r, err := randomScalar(rnd)
	if err != nil {
		return nil, nil, err
	}
	p := hashToElement(input)
	return r, ristretto255.NewElement().ScalarMult(r, p), nil
}

func evaluate(key *ristretto255.Scalar, blinded *ristretto255.Element) *ristretto255.Element {
	return ristretto255.NewElement().ScalarMult(key, blinded)
}

// finalize unblinds the evaluated element and hashes it together with the
// input into the 64-byte OPRF output.
func finalize(input []byte, r *ristretto255.Scalar, evaluated *ristretto255.Element) []byte {
	inv := ristretto255.NewScalar().Invert(r)
	defer wipeScalar(inv)
	n := ristretto255.NewElement().ScalarMult(inv, evaluated)

	h := sha512.New()
	h.Write([]byte(dstFinalize))
	writeLP(h, input)
	writeLP(h, n.Encode(nil))
	return h.Sum(nil)
}
