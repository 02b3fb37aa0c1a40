package blob

import (
	"context"
	"path/filepath"
	"testing"

	"shareit/internal/config"
)

func TestNewStoreFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.BlobConfig
		wantErr bool
	}{
		{
			name: "memory store",
			cfg:  config.BlobConfig{Type: "memory"},
		},
		{
			name: "filesystem store",
			cfg:  config.BlobConfig{Type: "filesystem", FSRoot: filepath.Join(t.TempDir(), "blobs")},
		},
		{
			name:    "filesystem store without root",
			cfg:     config.BlobConfig{Type: "filesystem"},
			wantErr: true,
		},
		{
			name:    "s3 store without bucket",
			cfg:     config.BlobConfig{Type: "s3"},
			wantErr: true,
		},
		{
			name:    "unknown store type",
			cfg:     config.BlobConfig{Type: "tape"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewStoreFromConfig(context.Background(), tt.cfg)

			if (err != nil) != tt.wantErr {
				t.Fatalf("NewStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if got != nil {
					t.Errorf("NewStoreFromConfig() = %v, want nil", got)
				}
				return
			}
			if err := got.ValidateSetup(); err != nil {
				t.Errorf("ValidateSetup() error = %v", err)
			}
		})
	}
}
