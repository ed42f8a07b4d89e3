package keystore

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// ForURI creates a store from a location URI.
//
// Supported schemes:
//   - memory://  in-process, non-persistent
//   - file:///path/to/dir  one file per record
//   - vault://host:port/mount/prefix  HashiCorp Vault KV v2; append
//     ?tls=false for plain HTTP (development only)
func ForURI(locationURI string, log *slog.Logger) (Store, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("invalid keystore URI %q: %w", locationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryStore(), nil

	case "file":
		if u.Path == "" {
			return nil, fmt.Errorf("file keystore URI %q has no path", locationURI)
		}
		return NewFileStore(u.Path)

	case "vault":
		parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("vault keystore URI %q must be vault://host:port/mount/prefix", locationURI)
		}
		scheme := "https"
		if u.Query().Get("tls") == "false" {
			scheme = "http"
		}
		return NewVaultStore(scheme+"://"+u.Host, parts[0], parts[1], log)

	default:
		return nil, fmt.Errorf("unsupported keystore scheme %q", u.Scheme)
	}
}
