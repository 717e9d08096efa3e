// service_registry.go: backend service descriptors derived from the live document
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package hubconfig

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// ServiceDescriptor is the uniform view of one optional backend. It is
// derived from the document and never persisted.
type ServiceDescriptor struct {
	Name        string
	Enabled     bool
	BaseURL     string
	URLLess     bool
	ExtraParams map[string]Value
}

// Available reports whether clients may call the service.
func (d ServiceDescriptor) Available() bool {
	return d.Enabled && (d.URLLess || d.BaseURL != "")
}

// DescriptorFactory projects document keys into a descriptor. Factories may
// panic or return errors on malformed data; the registry turns both into a
// disabled descriptor.
type DescriptorFactory func(doc *Document) (ServiceDescriptor, error)

// ServiceSet maps service names to resolved descriptors.
type ServiceSet map[string]ServiceDescriptor

// ServiceRegistry resolves registered backends against documents and keeps
// the most recently published resolution for clients.
type ServiceRegistry struct {
	logger Logger

	mu          sync.RWMutex
	factories   map[string]DescriptorFactory
	order       []string
	sealed      bool
	subscribers []func(ServiceSet)

	published atomic.Pointer[ServiceSet]
}

// NewServiceRegistry creates an empty registry. logger may be nil.
func NewServiceRegistry(logger any) *ServiceRegistry {
	return &ServiceRegistry{
		logger:    NewLogger(logger),
		factories: make(map[string]DescriptorFactory),
	}
}

// Register adds a backend factory.
func (r *ServiceRegistry) Register(name string, factory DescriptorFactory) error {
	if strings.TrimSpace(name) == "" || factory == nil {
		return NewInvalidDescriptorError(name, "service needs a name and a factory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return NewRegistrySealedError("services")
	}
	if _, exists := r.factories[name]; exists {
		return NewDuplicateKeyError(name)
	}
	r.factories[name] = factory
	r.order = append(r.order, name)
	return nil
}

// Seal rejects further registrations.
func (r *ServiceRegistry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Names returns registered service names in registration order.
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Resolve projects doc into one descriptor per registered backend. It never
// fails: a factory error or panic, or an enabled backend without a URL,
// yields a disabled descriptor.
func (r *ServiceRegistry) Resolve(doc *Document) ServiceSet {
	r.mu.RLock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	factories := make([]DescriptorFactory, len(names))
	for i, name := range names {
		factories[i] = r.factories[name]
	}
	r.mu.RUnlock()

	out := make(ServiceSet, len(names))
	for i, name := range names {
		out[name] = r.resolveOne(name, factories[i], doc)
	}
	return out
}

func (r *ServiceRegistry) resolveOne(name string, factory DescriptorFactory, doc *Document) (desc ServiceDescriptor) {
	desc = ServiceDescriptor{Name: name}
	if doc == nil {
		return desc
	}

	defer withCustomRecoveryHandler(func(recovered any, stack []byte) {
		r.logger.Error("Service descriptor factory panicked",
			"service", name,
			"panic", recovered,
			"stack", string(stack))
		desc = ServiceDescriptor{Name: name}
	})()

	resolved, err := factory(doc)
	if err != nil {
		r.logger.Warn("Service descriptor unavailable", "service", name, "error", err)
		return ServiceDescriptor{Name: name}
	}
	resolved.Name = name
	if resolved.Enabled && !resolved.URLLess && resolved.BaseURL == "" {
		r.logger.Warn("Service enabled without base URL, treating as disabled", "service", name)
		resolved.Enabled = false
	}
	return resolved
}

// Publish resolves doc and makes the result visible to IsEnabled, Endpoint
// and subscribers.
func (r *ServiceRegistry) Publish(doc *Document) ServiceSet {
	set := r.Commit(doc)
	r.Broadcast(set)
	return set
}

// Commit resolves doc and makes the result visible to IsEnabled and Endpoint
// without calling subscribers. Callers holding their own locks commit first
// and Broadcast once those locks are released.
func (r *ServiceRegistry) Commit(doc *Document) ServiceSet {
	set := r.Resolve(doc)
	r.published.Store(&set)
	return set
}

// Broadcast hands set to every subscriber. A nil set is ignored.
func (r *ServiceRegistry) Broadcast(set ServiceSet) {
	if set == nil {
		return
	}
	r.mu.RLock()
	subscribers := make([]func(ServiceSet), len(r.subscribers))
	copy(subscribers, r.subscribers)
	r.mu.RUnlock()

	for _, fn := range subscribers {
		func() {
			defer withStackRecover(r.logger)()
			fn(set.clone())
		}()
	}
}

// Subscribe registers fn to receive every published resolution. If a
// resolution is already published, fn receives it immediately.
func (r *ServiceRegistry) Subscribe(fn func(ServiceSet)) {
	r.mu.Lock()
	r.subscribers = append(r.subscribers, fn)
	r.mu.Unlock()

	if current := r.published.Load(); current != nil {
		defer withStackRecover(r.logger)()
		fn(current.clone())
	}
}

// IsEnabled reports whether name is available. Unknown names are unavailable.
func (r *ServiceRegistry) IsEnabled(name string) bool {
	d, ok := r.Descriptor(name)
	return ok && d.Available()
}

// Endpoint returns the base URL of an available service.
func (r *ServiceRegistry) Endpoint(name string) (string, bool) {
	d, ok := r.Descriptor(name)
	if !ok || !d.Available() || d.BaseURL == "" {
		return "", false
	}
	return d.BaseURL, true
}

// Descriptor returns the published descriptor for name.
func (r *ServiceRegistry) Descriptor(name string) (ServiceDescriptor, bool) {
	current := r.published.Load()
	if current == nil {
		return ServiceDescriptor{}, false
	}
	d, ok := (*current)[name]
	return d, ok
}

// Descriptors returns the published descriptors sorted by name.
func (r *ServiceRegistry) Descriptors() []ServiceDescriptor {
	current := r.published.Load()
	if current == nil {
		return nil
	}
	return current.Sorted()
}

// Sorted returns the descriptors ordered by name.
func (s ServiceSet) Sorted() []ServiceDescriptor {
	out := make([]ServiceDescriptor, 0, len(s))
	for _, d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s ServiceSet) clone() ServiceSet {
	out := make(ServiceSet, len(s))
	for name, d := range s {
		extras := make(map[string]Value, len(d.ExtraParams))
		for k, v := range d.ExtraParams {
			extras[k] = v
		}
		d.ExtraParams = extras
		out[name] = d
	}
	return out
}

// ServiceSpec describes a backend by the document keys that configure it.
type ServiceSpec struct {
	Name      string
	Kind      string
	EnableKey string
	URLKey    string
	URLLess   bool
	ExtraKeys []string
}

// Factory builds the descriptor factory described by s.
func (s ServiceSpec) Factory() DescriptorFactory {
	return func(doc *Document) (ServiceDescriptor, error) {
		desc := ServiceDescriptor{Name: s.Name, URLLess: s.URLLess}

		enabled, err := s.enabled(doc)
		if err != nil {
			return desc, err
		}
		desc.Enabled = enabled

		if s.URLKey != "" {
			if v, ok := doc.Get(s.URLKey); ok {
				raw, isString := v.AsString()
				if !isString {
					return desc, fmt.Errorf("%s is not a string", s.URLKey)
				}
				desc.BaseURL = expandEnv(raw)
			}
		}

		if len(s.ExtraKeys) > 0 {
			desc.ExtraParams = make(map[string]Value, len(s.ExtraKeys))
			for _, key := range s.ExtraKeys {
				if v, ok := doc.Get(key); ok {
					desc.ExtraParams[key] = v
				}
			}
		}
		return desc, nil
	}
}

func (s ServiceSpec) enabled(doc *Document) (bool, error) {
	v, ok := doc.Get(s.EnableKey)
	if !ok {
		return false, nil
	}
	b, ok := v.AsBool()
	if !ok {
		return false, fmt.Errorf("%s is not a bool", s.EnableKey)
	}
	return b, nil
}

// Rule returns the cross-field rule requiring a URL when the service is
// enabled. URL-less services have none.
func (s ServiceSpec) Rule() (CrossFieldRule, bool) {
	if s.URLLess || s.URLKey == "" {
		return CrossFieldRule{}, false
	}
	return CrossFieldRule{
		Name:  s.Name + "_url_required",
		Keys:  []string{s.EnableKey, s.URLKey},
		Reset: []string{s.EnableKey},
		Check: func(doc *Document) (string, bool) {
			enabled, _ := s.enabled(doc)
			if !enabled {
				return "", true
			}
			if v, ok := doc.Get(s.URLKey); ok {
				if raw, _ := v.AsString(); expandEnv(raw) != "" {
					return "", true
				}
			}
			return fmt.Sprintf("enabled without base URL (%s)", s.URLKey), false
		},
	}, true
}
