package kyberium

import (
	"fmt"
	"strings"
)

// AlgorithmInfo renders a banner naming the configured primitives.
func (e *Engine) AlgorithmInfo() string {
	var b strings.Builder
	b.WriteString("Kyberium Post-Quantum Cryptography\n")
	fmt.Fprintf(&b, "- KEM: %s\n", e.provider.KEM.Description())
	fmt.Fprintf(&b, "- Signature: %s\n", e.provider.Signer.Description())
	fmt.Fprintf(&b, "- Symmetric: %s\n", e.provider.AEAD.Name())
	fmt.Fprintf(&b, "- KDF: %s\n", e.kdf.Name())
	fmt.Fprintf(&b, "- Security: NIST Level %d (Post-Quantum)", e.provider.KEM.SecurityLevel())
	return b.String()
}
