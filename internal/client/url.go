// ABOUTME: Gateway URL construction with ws/wss scheme inference.
// ABOUTME: Explicit schemes win; port 443 and tailnet-style hosts force wss.

package client

import (
	"fmt"
	"strings"
)

// buildURL assembles the socket URL for a target. An explicit scheme is
// respected; otherwise wss is inferred for port 443 and for hosts that
// only terminate TLS (tailnet hostnames), and ws is used for the rest.
func buildURL(t Target) string {
	host := strings.TrimSuffix(t.Host, "/")
	scheme := t.Scheme

	// Tolerate hosts pasted with a scheme attached.
	for _, prefix := range []string{"wss://", "ws://", "https://", "http://"} {
		if strings.HasPrefix(host, prefix) {
			if scheme == "" {
				switch prefix {
				case "wss://", "https://":
					scheme = "wss"
				default:
					scheme = "ws"
				}
			}
			host = strings.TrimPrefix(host, prefix)
			break
		}
	}

	if scheme == "" {
		if t.Port == 443 || strings.HasSuffix(strings.ToLower(host), ".ts.net") {
			scheme = "wss"
		} else {
			scheme = "ws"
		}
	}

	addr := host
	if t.Port != 0 && !strings.Contains(host, ":") {
		addr = fmt.Sprintf("%s:%d", host, t.Port)
	}
	return scheme + "://" + addr + "/"
}
