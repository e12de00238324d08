package server

import (
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
)

// System route paths registered by RegisterSystemEndpoints.
var systemPaths = map[string]bool{
	"/healthz": true,
	"/readyz":  true,
	"/livez":   true,
	"/info":    true,
	"/version": true,
	"/metrics": true,
}

// sortedRoutes orders routes API first, then system routes, each group by
// path and method.
func sortedRoutes(routes gin.RoutesInfo) gin.RoutesInfo {
	sort.Slice(routes, func(i, j int) bool {
		iSys := systemPaths[routes[i].Path]
		jSys := systemPaths[routes[j].Path]
		if iSys != jSys {
			return !iSys
		}
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return methodOrder(routes[i].Method) < methodOrder(routes[j].Method)
	})
	return routes
}

// formatHandlerName extracts a clean handler name from Gin's full handler path.
// Gin stores handlers like:
//
//	"github.com/kbukum/discoverykit/server.(*Admin).listServices-fm"
//
// which becomes "Admin.listServices".
func formatHandlerName(fullPath string) string {
	// Gin appends -fm to method values.
	name := strings.TrimSuffix(fullPath, "-fm")

	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}

	// "(*Admin).list" -> "Admin.list"
	name = strings.ReplaceAll(name, "(*", "")
	name = strings.ReplaceAll(name, ")", "")

	// Closures such as "endpoint.Health.func1" keep the enclosing name.
	if strings.Contains(name, ".func") {
		parts := strings.Split(name, ".")
		for i := len(parts) - 1; i >= 0; i-- {
			if !strings.HasPrefix(parts[i], "func") {
				name = strings.ToLower(parts[i])
				break
			}
		}
	}

	// Drop a lowercase package prefix.
	parts := strings.SplitN(name, ".", 2)
	if len(parts) == 2 && strings.ToLower(parts[0]) == parts[0] && parts[1] != "" {
		name = parts[1]
	}

	return name
}

// methodOrder returns a sort key for HTTP methods (GET first, DELETE last).
func methodOrder(method string) int {
	switch method {
	case "GET":
		return 0
	case "POST":
		return 1
	case "PUT":
		return 2
	case "PATCH":
		return 3
	case "DELETE":
		return 4
	default:
		return 5
	}
}
