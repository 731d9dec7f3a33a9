package engine

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// OpenFunc constructs an Engine from a parsed URL and its semicolon-
// separated parameter list (e.g. "leveldb:/var/lib/acidkv;cache_size=64").
type OpenFunc func(u *url.URL, params map[string]string) (Engine, error)

var (
	registryMu sync.Mutex
	registry   = make(map[string]OpenFunc)
)

// Register associates scheme with open, so that Open(scheme + ":...")
// dispatches to it. Concrete backend packages call this from an init(),
// mirroring sorted.RegisterKeyValue.
func Register(scheme string, open OpenFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if scheme == "" || open == nil {
		panic("engine: zero scheme or nil open func")
	}
	if _, dup := registry[scheme]; dup {
		panic("engine: duplicate registration of scheme " + scheme)
	}
	registry[scheme] = open
}

// Open parses rawURL as "scheme:/path;k1[=v1],k2[=v2]" and dispatches to
// the Engine registered for scheme.
func Open(rawURL string) (Engine, error) {
	path, params, err := splitParams(rawURL)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("engine: invalid url %q: %w", rawURL, err)
	}

	registryMu.Lock()
	open, ok := registry[u.Scheme]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("engine: unknown scheme %q", u.Scheme)
	}
	return open(u, params)
}

// splitParams strips a ";k=v,k=v" parameter list from the path component
// of rawURL, returning the bare URL and the decoded parameters. A
// parameter with no "=value" is recorded with an empty string value.
func splitParams(rawURL string) (bareURL string, params map[string]string, err error) {
	scheme, rest, ok := strings.Cut(rawURL, ":")
	if !ok {
		return rawURL, nil, nil
	}
	path, paramStr, hasParams := strings.Cut(rest, ";")
	if !hasParams {
		return rawURL, nil, nil
	}
	params = make(map[string]string)
	for _, part := range strings.Split(paramStr, ",") {
		if part == "" {
			continue
		}
		k, v, hasVal := strings.Cut(part, "=")
		if !hasVal {
			params[k] = ""
		} else {
			params[k] = v
		}
	}
	return scheme + ":" + path, params, nil
}
