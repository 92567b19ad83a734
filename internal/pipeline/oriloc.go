package pipeline

import (
	"fmt"
	"net/url"
)

// oriloc is the query parameter a mirror-side redirect carries so a later
// request can reconstruct the original CDN target without the mirror
// keeping any redirect-chain state (spec §9, "URL carriage of upstream
// location").
const oriloc = "oriloc"

// NormalizeURL implements spec §4.6 Step 1: if u already carries an
// oriloc parameter, strip it and switch to the original CDN host it
// names; otherwise return u unchanged (the caller maps non-API/LFS hosts
// through the configured LFS base separately, since that mapping needs
// the mirror's config, not just the URL).
func NormalizeURL(rawURL string) (resolved string, hadOriloc bool, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false, fmt.Errorf("pipeline: parse url: %w", err)
	}

	q := u.Query()
	orig := q.Get(oriloc)
	if orig == "" {
		return rawURL, false, nil
	}
	return orig, true, nil
}

// RewriteRedirectLocation implements the mirror-side half of Step 2's
// redirect handling: given an upstream Location header, produce the
// client-visible location under mirrorLFSBase carrying oriloc, so a
// follow-up request reconstructs the upstream URL exactly (spec S6).
//
// Returns an error if location already carries oriloc (loop guard: spec
// §9 "refuse to add oriloc if one is already present").
func RewriteRedirectLocation(location, mirrorLFSBase string) (string, error) {
	parsed, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("pipeline: parse redirect location: %w", err)
	}
	if parsed.Host == "" {
		// relative location: nothing to rewrite.
		return location, nil
	}
	if parsed.Query().Get(oriloc) != "" {
		return "", fmt.Errorf("pipeline: redirect location already carries %s (loop guard)", oriloc)
	}

	base, err := url.Parse(mirrorLFSBase)
	if err != nil {
		return "", fmt.Errorf("pipeline: parse mirror lfs base: %w", err)
	}

	out := *base
	out.Path = parsed.Path
	out.RawPath = ""

	// Appended rather than re-encoded via url.Values (which sorts keys)
	// so the original query's param order is preserved and only oriloc
	// is added at the tail, matching spec S6's example byte-for-byte.
	oriLocParam := oriloc + "=" + url.QueryEscape(location)
	if parsed.RawQuery != "" {
		out.RawQuery = parsed.RawQuery + "&" + oriLocParam
	} else {
		out.RawQuery = oriLocParam
	}

	return out.String(), nil
}
