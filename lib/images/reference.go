package images

import (
	"context"
	"fmt"
	"strings"

	"github.com/distribution/reference"
)

// NormalizedRef is a validated and normalized image reference, either
// tagged ("docker.io/library/ubuntu:16.04") or pinned by digest
// ("docker.io/library/ubuntu@sha256:..."). Base images in provisioning
// documents pass through here before a build starts.
type NormalizedRef struct {
	raw        string
	repository string
	tag        string // empty for digest refs
	digest     string // empty for tagged refs
}

// ParseNormalizedRef validates and normalizes a user-provided image
// reference. Shorthand forms expand the way the engine CLI would:
// "ubuntu" becomes "docker.io/library/ubuntu:latest".
func ParseNormalizedRef(s string) (*NormalizedRef, error) {
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRef, s, err)
	}

	ref := &NormalizedRef{
		repository: reference.Domain(named) + "/" + reference.Path(named),
	}

	if canonical, ok := named.(reference.Canonical); ok {
		ref.digest = canonical.Digest().String()
		ref.raw = canonical.String()
		return ref, nil
	}

	// Tagged reference; default the tag to latest when absent.
	tagged := reference.TagNameOnly(named)
	if t, ok := tagged.(reference.Tagged); ok {
		ref.tag = t.Tag()
	}
	ref.raw = tagged.String()

	return ref, nil
}

// String returns the full normalized reference.
func (r *NormalizedRef) String() string {
	return r.raw
}

// Repository returns the repository path without tag or digest, e.g.
// "docker.io/library/ubuntu".
func (r *NormalizedRef) Repository() string {
	return r.repository
}

// Tag returns the tag, or an empty string for digest references.
func (r *NormalizedRef) Tag() string {
	return r.tag
}

// IsDigest reports whether the reference pins a digest.
func (r *NormalizedRef) IsDigest() bool {
	return r.digest != ""
}

// Digest returns the pinned digest, or an empty string for tagged
// references.
func (r *NormalizedRef) Digest() string {
	return r.digest
}

// DigestHex returns the hex portion of the digest without the
// algorithm prefix, or an empty string for tagged references.
func (r *NormalizedRef) DigestHex() string {
	if r.digest == "" {
		return ""
	}
	parts := strings.SplitN(r.digest, ":", 2)
	if len(parts) != 2 {
		return ""
	}
	return parts[1]
}

// ResolveDigest returns the manifest digest for the reference. Digest
// references answer from the reference itself; tagged references ask
// the resolver, so every build records the exact base image it
// started from even when the tag later moves.
func (r *NormalizedRef) ResolveDigest(ctx context.Context, resolver Resolver) (string, error) {
	if r.IsDigest() {
		return r.digest, nil
	}
	return resolver.Resolve(ctx, r.raw)
}
