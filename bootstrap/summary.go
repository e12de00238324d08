package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kbukum/discoverykit/component"
)

// Summary renders the startup report: what each component is, the routes
// the admin server mounted and the live health of everything registered.
type Summary struct {
	serviceName     string
	version         string
	startupDuration time.Duration
	out             io.Writer
}

// NewSummary creates a startup summary that writes to stdout.
func NewSummary(serviceName, version string) *Summary {
	return &Summary{
		serviceName: serviceName,
		version:     version,
		out:         os.Stdout,
	}
}

// SetOutput redirects the summary. A nil writer silences it.
func (s *Summary) SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	s.out = w
}

// SetStartupDuration records the total startup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.startupDuration = d
}

// DisplaySummary prints the summary for the components in registry.
func (s *Summary) DisplaySummary(registry *component.Registry) {
	w := s.out
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "🚀 %s v%s started in %.2fs\n\n", s.serviceName, s.version, s.startupDuration.Seconds())

	if registry == nil || len(registry.All()) == 0 {
		fmt.Fprintf(w, "   └── No components registered\n\n")
		return
	}

	ctx := context.Background()
	healths := registry.HealthAll(ctx)
	byName := make(map[string]component.Health, len(healths))
	for _, h := range healths {
		byName[h.Name] = h
	}

	all := registry.All()
	fmt.Fprintf(w, "📦 Components\n")
	healthy := 0
	for i, c := range all {
		h := byName[c.Name()]
		if h.Status == component.StatusHealthy {
			healthy++
		}
		fmt.Fprintf(w, "   %s %s %s\n", treePrefix(i, len(all)), healthStatusIcon(h.Status), describeLine(c))
	}
	fmt.Fprintf(w, "\n")
	if healthy == len(all) {
		fmt.Fprintf(w, "✅ All components healthy (%d/%d)\n", healthy, len(all))
	} else {
		fmt.Fprintf(w, "⚠️  Some components have issues (%d/%d healthy)\n", healthy, len(all))
	}

	var routes []component.Route
	for _, c := range all {
		if rp, ok := c.(component.RouteProvider); ok {
			routes = append(routes, rp.Routes()...)
		}
	}
	if len(routes) > 0 {
		fmt.Fprintf(w, "\n🌐 Routes (%d)\n", len(routes))
		for i, r := range routes {
			fmt.Fprintf(w, "   %s %-7s %s → %s\n", treePrefix(i, len(routes)), r.Method, r.Path, r.Handler)
		}
	}

	fmt.Fprintf(w, "\n🏥 Health Check\n")
	for i, h := range healths {
		msg := ""
		if h.Message != "" {
			msg = " (" + h.Message + ")"
		}
		fmt.Fprintf(w, "   %s %s %s: %s%s\n", treePrefix(i, len(healths)), healthStatusIcon(h.Status),
			h.Name, strings.ToLower(string(h.Status)), msg)
	}
	fmt.Fprintf(w, "\n")
}

// describeLine renders "name [type]: details (:port)" for Describable
// components and just the name otherwise.
func describeLine(c component.Component) string {
	d, ok := c.(component.Describable)
	if !ok {
		return c.Name()
	}
	desc := d.Describe()
	name := desc.Name
	if name == "" {
		name = c.Name()
	}
	line := name
	if desc.Type != "" {
		line += " [" + desc.Type + "]"
	}
	if desc.Details != "" {
		line += ": " + desc.Details
	}
	if desc.Port > 0 {
		line += fmt.Sprintf(" (:%d)", desc.Port)
	}
	return line
}

func treePrefix(i, n int) string {
	if i == n-1 {
		return "└──"
	}
	return "├──"
}

func healthStatusIcon(status component.HealthStatus) string {
	switch status {
	case component.StatusHealthy:
		return "✅"
	case component.StatusDegraded:
		return "⚠️"
	case component.StatusUnhealthy:
		return "❌"
	default:
		return "❓"
	}
}
