package content

import "context"

// Borrower lends a tag's session secret for the duration of fn. The
// secret must not be retained after fn returns.
type Borrower interface {
	Borrow(ctx context.Context, tagID string, fn func(secret []byte) error) error
}

// EncryptForTag encrypts plaintext with the active session secret of tagID.
func (c *Cipher) EncryptForTag(ctx context.Context, b Borrower, tagID, plaintext string) (*Sealed, error) {
	var out *Sealed
	err := b.Borrow(ctx, tagID, func(secret []byte) error {
		var err error
		out, err = c.Encrypt(plaintext, secret)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DecryptForTag decrypts s with the active session secret of tagID. If the
// session is locked or expires while the call runs, the borrow fails and
// no plaintext is returned.
func (c *Cipher) DecryptForTag(ctx context.Context, b Borrower, tagID string, s *Sealed) (string, error) {
	var out string
	err := b.Borrow(ctx, tagID, func(secret []byte) error {
		var err error
		out, err = c.DecryptSealed(s, secret)
		return err
	})
	if err != nil {
		return "", err
	}
	return out, nil
}
