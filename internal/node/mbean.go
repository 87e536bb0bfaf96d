package node

import (
	"context"
	"fmt"
	"time"

	"github.com/katiya-cw/openesb-standalone/internal/management"
	"github.com/katiya-cw/openesb-standalone/internal/version"
)

// Management operations.
const (
	OpStop    = "stop"
	OpRefresh = "refresh"
)

// Attributes is the instance record published on the management registry.
func (n *Node) Attributes() map[string]interface{} {
	attrs := map[string]interface{}{
		"Name":        n.identity.Name,
		"InstallRoot": n.identity.InstallRoot,
		"Loaded":      n.Loaded(),
		"State":       n.State().String(),
		"Version":     version.Version,
	}
	if at := n.startedAt.Load(); at != nil {
		attrs["StartedAt"] = at.UTC().Format(time.RFC3339)
	}
	return attrs
}

// Invoke runs a remote operation. stop only posts a request on
// StopRequested: the caller is served by the connector Stop would shut down.
func (n *Node) Invoke(ctx context.Context, op string) (interface{}, error) {
	switch op {
	case OpStop:
		select {
		case n.stopRequests <- struct{}{}:
		default:
		}
		n.logger.Info("remote stop requested")
		return "stop requested", nil
	case OpRefresh:
		if err := n.Refresh(ctx); err != nil {
			return nil, err
		}
		return "refreshed", nil
	default:
		return nil, fmt.Errorf("%w: %s", management.ErrUnknownOperation, op)
	}
}

// PluginState is a read-only view of the plugins of a node.
type PluginState struct{ n *Node }

func (n *Node) Plugins() PluginState { return PluginState{n: n} }

// Services lists the enabled plugins.
func (p PluginState) Services() []string {
	if p.n.plugins == nil {
		return nil
	}
	return p.n.plugins.Services()
}

// Started lists the running plugins in start order.
func (p PluginState) Started() []string {
	p.n.pluginsMu.Lock()
	defer p.n.pluginsMu.Unlock()
	ids := make([]string, 0, len(p.n.startedPlugins))
	for _, s := range p.n.startedPlugins {
		ids = append(ids, s.name)
	}
	return ids
}
