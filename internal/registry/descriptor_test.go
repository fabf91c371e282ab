package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		in      Descriptor
		wantErr bool
		wantURL string
	}{
		{
			name:    "defaults port",
			in:      Descriptor{Name: "local", Host: "localhost"},
			wantURL: "http://localhost:5000",
		},
		{
			name:    "ssl selects https",
			in:      Descriptor{Name: "prod", Host: "registry.example.com", Port: 443, UseSSL: true},
			wantURL: "https://registry.example.com:443",
		},
		{
			name:    "trims whitespace",
			in:      Descriptor{Name: " local ", Host: " 10.0.0.5 ", Port: 5001},
			wantURL: "http://10.0.0.5:5001",
		},
		{name: "missing name", in: Descriptor{Host: "localhost"}, wantErr: true},
		{name: "missing host", in: Descriptor{Name: "local"}, wantErr: true},
		{name: "port out of range", in: Descriptor{Name: "local", Host: "localhost", Port: 70000}, wantErr: true},
		{name: "host with scheme", in: Descriptor{Name: "local", Host: "http://localhost"}, wantErr: true},
		{name: "host with path", in: Descriptor{Name: "local", Host: "localhost/v2"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDescriptor(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidDescriptor)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, d.BaseURL().String())
		})
	}
}

func TestDescriptorCredentials(t *testing.T) {
	d := Descriptor{Username: "user"}
	assert.False(t, d.HasCredentials())

	d.Password = "secret"
	assert.True(t, d.HasCredentials())

	red := d.Redacted()
	assert.Equal(t, "********", red.Password)
	assert.Equal(t, "secret", d.Password)
}

func TestValidateReference(t *testing.T) {
	d, err := NewDescriptor(Descriptor{Name: "local", Host: "localhost"})
	require.NoError(t, err)

	assert.NoError(t, d.ValidateReference("app", "v1"))
	assert.NoError(t, d.ValidateReference("team/app", "1.0.0-rc1"))
	assert.NoError(t, d.ValidateReference("team/app", ""))
	assert.Error(t, d.ValidateReference("App", "v1"))
	assert.Error(t, d.ValidateReference("app", "bad tag"))
}
