// Package reclaim returns machines to the pool: it uninstalls leftovers from
// physical nodes, tears down pod or container backed nodes, and sweeps
// ephemeral pods nobody tracks anymore.
package reclaim

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cifleet/internal/store"
)

// Uninstaller removes installation state from a physical machine.
type Uninstaller interface {
	Uninstall(ctx context.Context, node store.Node) error
}

// Teardown destroys the pod or container behind an ephemeral node.
type Teardown interface {
	Teardown(ctx context.Context, node store.Node) error
}

// NodeReclaimer is the collaborator the node lifecycle calls before a node
// leaves the offline state.
type NodeReclaimer interface {
	// Ephemeral reports whether the node is pod or container backed.
	Ephemeral(nodeName string) bool
	Uninstall(ctx context.Context, node store.Node) error
	Teardown(ctx context.Context, node store.Node) error
}

// Router picks the teardown backend by node name prefix and sends every
// other node to the uninstaller.
type Router struct {
	uninstaller Uninstaller
	prefixes    []string
	backends    map[string]Teardown
}

// NewRouter creates a router. backends maps a node name prefix such as
// "k8s-" to the teardown responsible for it.
func NewRouter(uninstaller Uninstaller, backends map[string]Teardown) *Router {
	prefixes := make([]string, 0, len(backends))
	for p := range backends {
		prefixes = append(prefixes, p)
	}
	// Longest prefix wins.
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	return &Router{uninstaller: uninstaller, prefixes: prefixes, backends: backends}
}

func (r *Router) backend(nodeName string) (Teardown, bool) {
	for _, p := range r.prefixes {
		if strings.HasPrefix(nodeName, p) {
			return r.backends[p], true
		}
	}
	return nil, false
}

func (r *Router) Ephemeral(nodeName string) bool {
	_, ok := r.backend(nodeName)
	return ok
}

func (r *Router) Uninstall(ctx context.Context, node store.Node) error {
	if r.uninstaller == nil {
		return nil
	}
	return r.uninstaller.Uninstall(ctx, node)
}

func (r *Router) Teardown(ctx context.Context, node store.Node) error {
	td, ok := r.backend(node.Name)
	if !ok {
		return fmt.Errorf("node %s is not ephemeral", node.Name)
	}
	return td.Teardown(ctx, node)
}

// SplitNodeName splits a "<pod>_<ip>" node name. Names without an
// underscore have no IP part.
func SplitNodeName(name string) (pod, ip string) {
	pod, ip, _ = strings.Cut(name, "_")
	return pod, ip
}

// NodeName joins a pod name and its IP into a node name.
func NodeName(pod, ip string) string {
	if ip == "" {
		return pod
	}
	return pod + "_" + ip
}
