package keystore

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/hashicorp/vault/api"
)

// VaultStore persists records in a HashiCorp Vault KV v2 mount. The
// wrapped key inside each record adds a second layer on top of Vault's
// own encryption, so Vault operators never see usable key material.
type VaultStore struct {
	client    *api.Client
	mountPath string
	dataPath  string
	log       *slog.Logger
}

// NewVaultStore connects to Vault at address using the token from the
// environment (api.DefaultConfig reads VAULT_TOKEN). mountPath is the KV
// v2 mount, dataPath the prefix within it.
func NewVaultStore(address, mountPath, dataPath string, log *slog.Logger) (*VaultStore, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("creating Vault client: %w", err)
	}

	return &VaultStore{
		client:    client,
		mountPath: strings.Trim(mountPath, "/"),
		dataPath:  strings.Trim(dataPath, "/"),
		log:       log,
	}, nil
}

func (s *VaultStore) recordPath(id string) string {
	return fmt.Sprintf("%s/data/%s/%s", s.mountPath, s.dataPath, id)
}

func (s *VaultStore) Put(ctx context.Context, id string, rec Record) error {
	data, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	_, err = s.client.Logical().WriteWithContext(ctx, s.recordPath(id), map[string]any{
		"data": map[string]any{
			"record": base64.StdEncoding.EncodeToString(data),
		},
	})
	if err != nil {
		s.log.Error("Failed to write key record to Vault", slog.String("id", id), "err", err)
		return fmt.Errorf("writing record to Vault: %w", err)
	}
	return nil
}

func (s *VaultStore) Get(ctx context.Context, id string) (Record, error) {
	secret, err := s.client.Logical().ReadWithContext(ctx, s.recordPath(id))
	if err != nil {
		s.log.Error("Failed to read key record from Vault", slog.String("id", id), "err", err)
		return Record{}, fmt.Errorf("reading record from Vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return Record{}, ErrNotFound
	}

	// KV v2 nests the payload under "data".
	inner, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return Record{}, fmt.Errorf("unexpected Vault response shape for record %s", id)
	}
	encoded, ok := inner["record"].(string)
	if !ok {
		return Record{}, ErrNotFound
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Record{}, fmt.Errorf("decoding record %s: %w", id, err)
	}
	var rec Record
	if err := cbor.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decoding record %s: %w", id, err)
	}
	return rec, nil
}

func (s *VaultStore) Delete(ctx context.Context, id string) error {
	// Metadata delete removes all versions of the record.
	path := fmt.Sprintf("%s/metadata/%s/%s", s.mountPath, s.dataPath, id)
	if _, err := s.client.Logical().DeleteWithContext(ctx, path); err != nil {
		s.log.Error("Failed to delete key record from Vault", slog.String("id", id), "err", err)
		return fmt.Errorf("deleting record from Vault: %w", err)
	}
	return nil
}
