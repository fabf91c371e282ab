package registry

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

// Descriptor identifies one registry connection profile. Build it with
// NewDescriptor so host, port and scheme are checked once up front.
type Descriptor struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	UseSSL   bool   `json:"useSSL" yaml:"use_ssl"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

// NewDescriptor normalizes and validates d. A zero port becomes DefaultPort.
func NewDescriptor(d Descriptor) (Descriptor, error) {
	d.Name = strings.TrimSpace(d.Name)
	d.Host = strings.TrimSpace(d.Host)
	if d.Port == 0 {
		d.Port = DefaultPort
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Validate reports whether the descriptor can be used to reach a registry.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDescriptor)
	}
	if d.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidDescriptor)
	}
	if d.Port < 1 || d.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidDescriptor, d.Port)
	}
	if _, err := d.registry(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return nil
}

// Address returns host:port.
func (d Descriptor) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Scheme is https when UseSSL is set, http otherwise.
func (d Descriptor) Scheme() string {
	if d.UseSSL {
		return "https"
	}
	return "http"
}

// BaseURL returns the scheme://host:port root all API paths hang off.
func (d Descriptor) BaseURL() *url.URL {
	return &url.URL{Scheme: d.Scheme(), Host: d.Address()}
}

// HasCredentials is true only when both username and password are non-empty.
func (d Descriptor) HasCredentials() bool {
	return d.Username != "" && d.Password != ""
}

// Redacted returns a copy safe to show to users.
func (d Descriptor) Redacted() Descriptor {
	if d.Password != "" {
		d.Password = "********"
	}
	return d
}

func (d Descriptor) registry() (name.Registry, error) {
	var opts []name.Option
	if !d.UseSSL {
		opts = append(opts, name.Insecure)
	}
	return name.NewRegistry(d.Address(), opts...)
}

// ValidateReference checks that repository and tag form a valid reference
// within this registry.
func (d Descriptor) ValidateReference(repository, tag string) error {
	var opts []name.Option
	if !d.UseSSL {
		opts = append(opts, name.Insecure)
	}
	ref := d.Address() + "/" + repository
	if tag != "" {
		ref += ":" + tag
		_, err := name.NewTag(ref, opts...)
		return err
	}
	_, err := name.NewRepository(ref, opts...)
	return err
}
