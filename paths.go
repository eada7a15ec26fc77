package gatekeeper

import (
	"strings"

	"github.com/jamesread/httpgatekeeper/gatepublic"
)

// isPublicPath reports whether the path is on the allow-list. "/" only
// matches exactly; a bare prefix match there would make every path public.
func isPublicPath(cfg *gatepublic.Config, path string) bool {
	for _, public := range cfg.GetPublicPaths() {
		if path == public {
			return true
		}

		if public != "/" && strings.HasPrefix(path, strings.TrimSuffix(public, "/")+"/") {
			return true
		}
	}

	return false
}

// isStaticAsset reports whether the path looks like a static asset: under
// the internal assets prefix, under any "/static/" segment, or ending in a
// known binary-asset extension.
func isStaticAsset(cfg *gatepublic.Config, path string) bool {
	if strings.HasPrefix(path, cfg.GetAssetsPrefix()) {
		return true
	}

	if strings.Contains(path, "/static/") {
		return true
	}

	for _, ext := range cfg.GetAssetExtensions() {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}

	return false
}

// IsPublic reports whether the path may be served without consulting the
// token verifier. Public paths and assets must stay reachable during
// unauthenticated states, the sign-in page itself included.
func IsPublic(cfg *gatepublic.Config, path string) bool {
	return isPublicPath(cfg, path) || isStaticAsset(cfg, path)
}

// IsExcluded reports whether the gatekeeper should not run for this path at
// all. Exclusions are matched on the first path segment.
func IsExcluded(cfg *gatepublic.Config, path string) bool {
	segment := strings.TrimPrefix(path, "/")
	if idx := strings.Index(segment, "/"); idx >= 0 {
		segment = segment[:idx]
	}

	for _, excluded := range cfg.GetExcludedPaths() {
		if segment == excluded {
			return true
		}
	}

	return false
}
