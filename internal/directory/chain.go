package directory

import "context"

// Lookup resolves a handle to its public key.
type Lookup interface {
	LookupPublicKey(ctx context.Context, handle string) ([]byte, bool, error)
}

// Chain asks each directory in turn and returns the first key found. An
// error from any directory stops the walk.
type Chain []Lookup

func (c Chain) LookupPublicKey(ctx context.Context, handle string) ([]byte, bool, error) {
	for _, dir := range c {
		key, found, err := dir.LookupPublicKey(ctx, handle)
		if err != nil || found {
			return key, found, err
		}
	}
	return nil, false, nil
}
