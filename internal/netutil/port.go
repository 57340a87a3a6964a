package netutil

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
)

var ErrNoAddress = errors.New("no available bind address")

// Listen binds the preferred address, or with autoFallback the first free
// candidate. The listener is returned open so the address cannot be taken
// between the check and the bind.
func Listen(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("listen %s: %w", preferred, err)
		}
		slog.Warn("preferred bind address unavailable, trying fallbacks", "addr", preferred, "error", err)
	}

	for _, addr := range candidates {
		if addr == preferred {
			continue
		}
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		slog.Debug("fallback bind address unavailable", "addr", addr, "error", err)
	}

	return nil, ErrNoAddress
}
