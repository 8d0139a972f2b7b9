// Package roster synchronizes the directory from an external HR/IM roster.
package roster

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/isometry/virtual-ldap/internal/ldap"
)

// Department is one node of the provider's department tree. An empty
// ParentID marks the root.
type Department struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parentId,omitempty"`
}

// User is one roster member as reported by a provider.
type User struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Email         string           `json:"email"`
	Active        bool             `json:"active"`
	DepartmentIDs []string         `json:"departmentIds"`
	Title         string           `json:"title,omitempty"`
	Mobile        string           `json:"mobile,omitempty"`
	AvatarURL     string           `json:"avatarUrl,omitempty"`
	Extra         []ldap.Attribute `json:"extra,omitempty"`

	// FetchedFrom is the department whose listing returned the user. The
	// person entry is placed below it.
	FetchedFrom string `json:"fetchedFrom"`
}

// Provider is a roster source.
type Provider interface {
	// Name identifies the provider in logs, metrics and cache names.
	Name() string
	// Setup validates options and prepares the API client. It must not
	// contact the platform; credentials are exchanged on the first fetch.
	Setup(ctx context.Context, opts Options) error
	// FetchDepartments lists every department.
	FetchDepartments(ctx context.Context) ([]Department, error)
	// FetchUsers lists the users of one department.
	FetchUsers(ctx context.Context, departmentID string) ([]User, error)
	// Reload drops provider-held session state such as access tokens.
	Reload(ctx context.Context) error
}

// Options configures the roster provider and the sync schedule.
type Options struct {
	Name              string        `yaml:"name" default:"dingtalk"`
	AppKey            string        `yaml:"appKey"`
	AppSecret         string        `yaml:"appSecret"`
	BaseURL           string        `yaml:"baseURL"`
	RefreshInterval   time.Duration `yaml:"refreshInterval" default:"1h"`
	CacheTTL          time.Duration `yaml:"cacheTTL" default:"1h"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond" default:"10"`
	Concurrency       int           `yaml:"concurrency" default:"4"`
	Timeout           time.Duration `yaml:"timeout" default:"30s"`
}

// Constructor creates an unconfigured provider.
type Constructor func(logger ldap.Logger) Provider

// Registry maps configuration names to provider constructors.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds a constructor. Names are case-insensitive.
func (r *Registry) Register(name string, constructor Constructor) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || constructor == nil {
		return fmt.Errorf("provider name and constructor are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[key]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.constructors[key] = constructor
	return nil
}

// Create instantiates the named provider.
func (r *Registry) Create(name string, logger ldap.Logger) (Provider, error) {
	r.mu.RLock()
	constructor, ok := r.constructors[strings.ToLower(strings.TrimSpace(name))]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown roster provider %q (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	return constructor(logger), nil
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
