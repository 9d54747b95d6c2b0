// Package serviceinfo describes the public URLs and version of the service.
package serviceinfo

import (
	"strings"
)

// StubVersion is reported when no template version is configured.
const StubVersion = "1.6.0"

// Info is the body of the service.info method.
type Info struct {
	API      string `json:"api"`
	Access   string `json:"access"`
	Register string `json:"register"`
	Home     string `json:"home,omitempty"`
	Name     string `json:"name,omitempty"`
	Version  string `json:"version"`
}

// New builds an Info. The api, access and register URLs get a trailing "/".
// The api URL may contain a "{username}" placeholder.
func New(api, access, register, home, name, version string) *Info {
	if version == "" {
		version = StubVersion
	}
	return &Info{
		API:      withSlash(api),
		Access:   withSlash(access),
		Register: withSlash(register),
		Home:     home,
		Name:     name,
		Version:  version,
	}
}

func withSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}

// AsMap returns the fields as set on a call result.
func (i *Info) AsMap() map[string]any {
	m := map[string]any{
		"api":      i.API,
		"access":   i.Access,
		"register": i.Register,
		"version":  i.Version,
	}
	if i.Home != "" {
		m["home"] = i.Home
	}
	if i.Name != "" {
		m["name"] = i.Name
	}
	return m
}

// APIEndpoint returns the API URL of username. A non-empty token is embedded
// as the userinfo part: https://token@alice.example.com/.
func (i *Info) APIEndpoint(username, token string) string {
	endpoint := withSlash(strings.ReplaceAll(i.API, "{username}", username))
	if token == "" {
		return endpoint
	}
	scheme, rest, ok := strings.Cut(endpoint, "://")
	if !ok || scheme == "" || rest == "" {
		return endpoint
	}
	return scheme + "://" + token + "@" + rest
}
