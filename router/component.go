package router

import (
	"context"
	"fmt"

	"github.com/skillsenselab/orbit/component"
	"github.com/skillsenselab/orbit/plugin"
	"github.com/skillsenselab/orbit/satellite"
)

// Component adapts the router to the host's component lifecycle. Start
// runs provider discovery; Stop shuts every satellite down.
type Component struct {
	registry *plugin.Registry
	router   *Router
}

// NewComponent wraps a registry and router for lifecycle management.
func NewComponent(registry *plugin.Registry, r *Router) *Component {
	return &Component{registry: registry, router: r}
}

func (c *Component) Name() string { return "capability-router" }

func (c *Component) Start(ctx context.Context) error {
	return c.registry.Discover(ctx)
}

func (c *Component) Stop(ctx context.Context) error {
	return c.router.Shutdown(ctx)
}

// Health reports degraded when any satellite is terminated, unhealthy when
// all of them are.
func (c *Component) Health(_ context.Context) component.Health {
	snaps := c.router.Snapshots()

	terminated := 0
	for _, snap := range snaps {
		if snap.State == satellite.StateTerminated {
			terminated++
		}
	}

	h := component.Health{Name: c.Name(), Status: component.StatusHealthy}
	switch {
	case len(snaps) > 0 && terminated == len(snaps):
		h.Status = component.StatusUnhealthy
	case terminated > 0:
		h.Status = component.StatusDegraded
	}
	if terminated > 0 {
		h.Message = fmt.Sprintf("%d of %d satellites terminated", terminated, len(snaps))
	}
	return h
}

func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Capability Router",
		Type:    "router",
		Details: fmt.Sprintf("%d providers discovered", len(c.registry.Descriptors())),
	}
}
