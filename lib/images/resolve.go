package images

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
)

// Resolver resolves an image reference to its manifest digest without
// pulling the image.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// registryResolver asks the registry directly, using a HEAD request so
// no manifest body is transferred. Credentials come from the ambient
// docker keychain.
type registryResolver struct{}

// NewResolver creates the registry-backed resolver.
func NewResolver() Resolver {
	return &registryResolver{}
}

func (registryResolver) Resolve(ctx context.Context, refStr string) (string, error) {
	ref, err := name.ParseReference(refStr)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidRef, refStr, err)
	}

	desc, err := remote.Head(ref,
		remote.WithContext(ctx),
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrResolveFailed, refStr, err)
	}

	return desc.Digest.String(), nil
}
