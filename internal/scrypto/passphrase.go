package scrypto

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/faanross/hermnet/internal/spec"
)

// ReadPassphrase prompts on stderr and reads a passphrase from the terminal
// without echo.
func ReadPassphrase(prompt string) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("passphrase read failed: stdin is not a terminal")
	}

	fmt.Fprint(os.Stderr, prompt)
	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)

	if err != nil {
		return nil, fmt.Errorf("passphrase read failed: %w", err)
	}

	if len(passphrase) < spec.MIN_PASSPHRASE {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrWeakPassphrase, spec.MIN_PASSPHRASE)
	}

	return passphrase, nil
}
