// Package meta builds the common metadata block attached to every API response.
package meta

import (
	"fmt"
	"time"

	masterminds "github.com/Masterminds/semver/v3"
)

const logPrefix = "meta:meta"

// Provider supplies {apiVersion, serverTime, serial}.
type Provider struct {
	apiVersion string
	serial     string
	now        func() time.Time
}

// New creates a Provider. apiVersion must be a semantic version; a leading "v"
// is accepted and dropped.
func New(apiVersion, serial string) (*Provider, error) {
	v, err := masterminds.NewVersion(apiVersion)
	if err != nil {
		return nil, fmt.Errorf("%s - invalid API version %q: %w", logPrefix, apiVersion, err)
	}
	return &Provider{
		apiVersion: v.String(),
		serial:     serial,
		now:        time.Now,
	}, nil
}

// APIVersion returns the normalised API version.
func (p *Provider) APIVersion() string {
	return p.apiVersion
}

// Meta returns the metadata block. serverTime is in seconds since the epoch.
func (p *Provider) Meta() map[string]any {
	return map[string]any{
		"apiVersion": p.apiVersion,
		"serverTime": float64(p.now().UnixMilli()) / 1000,
		"serial":     p.serial,
	}
}
