package interceptor

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"fieldsync/internal/config"
	"fieldsync/internal/queue"
)

// Rules decides which outbound requests are eligible for offline capture.
// Only mutating verbs against the configured API prefix on the API host
// qualify; auth and admin style paths are excluded so stale credentials
// are never replayed later.
type Rules struct {
	Host             string
	Prefix           string
	PhotoPath        string
	ExcludedPrefixes []string
}

// RulesFromConfig derives interception rules from the API section.
func RulesFromConfig(cfg *config.Config) (Rules, error) {
	parsed, err := url.Parse(cfg.API.BaseURL)
	if err != nil {
		return Rules{}, fmt.Errorf("parse api base url: %w", err)
	}
	return Rules{
		Host:             parsed.Host,
		Prefix:           cfg.API.Prefix,
		PhotoPath:        cfg.API.PhotoUploadPath,
		ExcludedPrefixes: append([]string(nil), cfg.API.ExcludedPrefixes...),
	}, nil
}

var mutatingMethods = map[string]struct{}{
	http.MethodPost:  {},
	http.MethodPut:   {},
	http.MethodPatch: {},
}

// Eligible reports whether a failed request should be captured.
func (r Rules) Eligible(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	if _, ok := mutatingMethods[req.Method]; !ok {
		return false
	}
	if req.URL.Host != "" && req.URL.Host != r.Host {
		return false
	}
	path := req.URL.Path
	if !strings.HasPrefix(path, r.Prefix) {
		return false
	}
	for _, excluded := range r.ExcludedPrefixes {
		if strings.HasPrefix(path, excluded) {
			return false
		}
	}
	return true
}

// KindFor maps a request path to the queue item kind.
func (r Rules) KindFor(path string) queue.Kind {
	if path == r.PhotoPath {
		return queue.KindPhoto
	}
	return queue.KindForm
}
