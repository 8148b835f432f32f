package primitive

// Provider bundles the primitive variants selected for an engine. It holds
// no mutable state and is safe for concurrent use.
type Provider struct {
	KEM    KEM
	Signer Signer
	AEAD   AEAD
}

// NewProvider builds a Provider from algorithm names. Empty names select
// the defaults.
func NewProvider(kemName, signerName, aeadName string) (*Provider, error) {
	k, err := NewKEM(kemName)
	if err != nil {
		return nil, err
	}
	s, err := NewSigner(signerName)
	if err != nil {
		return nil, err
	}
	a, err := NewAEAD(aeadName)
	if err != nil {
		return nil, err
	}
	return &Provider{KEM: k, Signer: s, AEAD: a}, nil
}

// DefaultProvider returns ML-KEM-1024, ML-DSA-65 and AES-256-GCM.
func DefaultProvider() *Provider {
	p, err := NewProvider(DefaultKEM, DefaultSignature, DefaultAEAD)
	if err != nil {
		panic(err)
	}
	return p
}
