// Package registry maps logical host names to live runtime connections.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/melih/lighthouse-ctl/internal/adapters/docker"
	"github.com/melih/lighthouse-ctl/internal/config"
	"github.com/melih/lighthouse-ctl/internal/core/domain"
	"github.com/melih/lighthouse-ctl/internal/core/ports"
)

// Registry is the HostRegistry built once at startup. It is never mutated
// afterwards, so concurrent lookups need no locking.
type Registry struct {
	hosts map[string]ports.Host
	names []string
}

var _ ports.HostRegistry = (*Registry)(nil)

// New builds a registry over already connected hosts. Host names must be
// unique.
func New(hosts ...ports.Host) (*Registry, error) {
	r := &Registry{hosts: make(map[string]ports.Host, len(hosts))}
	for _, h := range hosts {
		if _, dup := r.hosts[h.Name()]; dup {
			return nil, fmt.Errorf("duplicate host %q", h.Name())
		}
		r.hosts[h.Name()] = h
		r.names = append(r.names, h.Name())
	}
	sort.Strings(r.names)
	return r, nil
}

// FromConfig connects a Docker adapter for every configured host.
func FromConfig(cfg *config.Config) (*Registry, error) {
	var hosts []ports.Host
	for _, hc := range cfg.EffectiveHosts() {
		a, err := docker.NewAdapter(hc.Name, docker.Options{
			Endpoint:    hc.Endpoint,
			APIVersion:  hc.APIVersion,
			TLSCA:       hc.TLSCA,
			TLSCert:     hc.TLSCert,
			TLSKey:      hc.TLSKey,
			StopTimeout: cfg.StopTimeout,
		})
		if err != nil {
			for _, h := range hosts {
				_ = h.Close()
			}
			return nil, err
		}
		hosts = append(hosts, a)
	}
	return New(hosts...)
}

// Resolve returns the host registered under name.
func (r *Registry) Resolve(name string) (ports.Host, error) {
	h, ok := r.hosts[name]
	if !ok {
		return nil, domain.HostNotFound(name)
	}
	return h, nil
}

// Container resolves name and binds containerID on it without contacting the
// runtime.
func (r *Registry) Container(name, containerID string) (ports.Container, error) {
	h, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return h.Container(containerID), nil
}

// Names returns the registered host names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Close releases every host connection.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.names {
		if err := r.hosts[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close host %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
