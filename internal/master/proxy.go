package master

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/argos-vision/argos/internal/api"
)

// proxyTimeout bounds one forwarded node request end to end.
const proxyTimeout = 30 * time.Second

// NodeProxy forwards API requests to a node, preserving method, query,
// and body, and relays the node's status and body back unchanged.
type NodeProxy struct {
	client *http.Client
	logger *slog.Logger
}

// NewNodeProxy creates the proxy with its shared HTTP client.
func NewNodeProxy(logger *slog.Logger) *NodeProxy {
	return &NodeProxy{
		client: &http.Client{Timeout: proxyTimeout},
		logger: logger.With("component", "proxy"),
	}
}

// Forward relays r to http://<address>/<subpath> and writes the node's
// response through. Transport failures surface as 504.
func (p *NodeProxy) Forward(w http.ResponseWriter, r *http.Request, address, subpath string) {
	url := fmt.Sprintf("http://%s/%s", address, subpath)
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}

	ctx, cancel := context.WithTimeout(r.Context(), proxyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.Method, url, r.Body)
	if err != nil {
		api.InternalError(w, "failed to build proxied request")
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		req.Header.Set("Content-Type", ct)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("Node request failed", "url", url, "error", err)
		api.GatewayTimeout(w, fmt.Sprintf("node at %s did not answer", address))
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Warn("Proxied response truncated", "url", url, "error", err)
	}
}
