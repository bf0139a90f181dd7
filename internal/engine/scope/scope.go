// Package scope composes the ordered list of domains visible to an anchor
// node. Structural domains come from ancestor subgraphs, affiliate domains
// join through tags, and typed domains join through capabilities. The
// composition is monotonic along ancestry: a node always sees every ancestor
// subgraph's structural domain.
package scope

import (
	"strings"
	"sync"

	"github.com/louisbranch/weave/internal/engine/dispatch"
	"github.com/louisbranch/weave/internal/engine/entity"
	"github.com/louisbranch/weave/internal/engine/graph"
	"github.com/louisbranch/weave/internal/engine/resolve"
	apperrors "github.com/louisbranch/weave/internal/platform/errors"
)

// Kind states how a domain becomes visible.
type Kind string

const (
	// KindStructural binds through subgraph ancestry.
	KindStructural Kind = "structural"
	// KindAffiliate binds through an anchor tag.
	KindAffiliate Kind = "affiliate"
	// KindTyped binds through an anchor capability.
	KindTyped Kind = "typed"
)

// Domain bundles a published namespace, a handler registry, and template
// factories under one visibility condition.
type Domain struct {
	Name      string
	Kind      Kind
	Owner     string
	Namespace map[string]any
	Handlers  *dispatch.Registry
	Templates []resolve.Template
}

// Directory indexes domains by their binding condition.
type Directory struct {
	mu         sync.RWMutex
	structural map[entity.UID]*Domain
	affiliate  map[string]*Domain
	typed      map[string]*Domain
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		structural: make(map[entity.UID]*Domain),
		affiliate:  make(map[string]*Domain),
		typed:      make(map[string]*Domain),
	}
}

// Bind attaches a structural domain to a subgraph uid.
func (d *Directory) Bind(subgraph entity.UID, dom *Domain) error {
	if strings.TrimSpace(string(subgraph)) == "" {
		return apperrors.New(apperrors.CodeEntityUIDEmpty, "subgraph uid is required")
	}
	if dom == nil {
		return apperrors.New(apperrors.CodeNotFound, "domain is required")
	}
	dom.Kind = KindStructural
	dom.Owner = string(subgraph)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.structural[subgraph] = dom
	return nil
}

// BindAffiliate attaches a domain joined by tag.
func (d *Directory) BindAffiliate(tag string, dom *Domain) error {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return apperrors.New(apperrors.CodeEntityBadAttr, "affiliate tag is required")
	}
	if dom == nil {
		return apperrors.New(apperrors.CodeNotFound, "domain is required")
	}
	dom.Kind = KindAffiliate
	dom.Owner = tag
	d.mu.Lock()
	defer d.mu.Unlock()
	d.affiliate[tag] = dom
	return nil
}

// BindCapability attaches a domain joined by capability.
func (d *Directory) BindCapability(capability string, dom *Domain) error {
	capability = strings.TrimSpace(capability)
	if capability == "" {
		return apperrors.New(apperrors.CodeEntityBadAttr, "capability is required")
	}
	if dom == nil {
		return apperrors.New(apperrors.CodeNotFound, "domain is required")
	}
	dom.Kind = KindTyped
	dom.Owner = capability
	d.mu.Lock()
	defer d.mu.Unlock()
	d.typed[capability] = dom
	return nil
}

// Scope is the ordered domain composition for one anchor, broadest first:
// structural ancestors root to leaf, then affiliates, then typed domains.
type Scope struct {
	anchor  entity.UID
	domains []*Domain
}

// ForAnchor computes the scope visible to anchor. Tag and capability joins
// follow the entity's sorted tag/cap order so the composition is
// deterministic.
func ForAnchor(dir *Directory, g *graph.Graph, anchor entity.UID) (Scope, error) {
	node, err := g.Require(anchor)
	if err != nil {
		return Scope{}, err
	}
	dir.mu.RLock()
	defer dir.mu.RUnlock()

	sc := Scope{anchor: anchor}
	for _, uid := range g.Ancestors(anchor) {
		if dom, ok := dir.structural[uid]; ok {
			sc.domains = append(sc.domains, dom)
		}
	}
	for _, tag := range node.Tags {
		if dom, ok := dir.affiliate[tag]; ok {
			sc.domains = append(sc.domains, dom)
		}
	}
	for _, capability := range node.Caps {
		if dom, ok := dir.typed[capability]; ok {
			sc.domains = append(sc.domains, dom)
		}
	}
	return sc, nil
}

// Anchor returns the anchor the scope was computed for.
func (s Scope) Anchor() entity.UID {
	return s.anchor
}

// Domains returns the composition, broadest first.
func (s Scope) Domains() []*Domain {
	out := make([]*Domain, len(s.domains))
	copy(out, s.domains)
	return out
}

// Registries returns the handler registries in scope order, feeding
// dispatch.Chain. Domains without handlers are skipped.
func (s Scope) Registries() []*dispatch.Registry {
	var out []*dispatch.Registry
	for _, dom := range s.domains {
		if dom.Handlers != nil {
			out = append(out, dom.Handlers)
		}
	}
	return out
}

// Resolve concatenates the ordered handlers for task across every domain, in
// scope order. Within a domain, dispatch's (layer, priority, registration)
// ordering applies.
func (s Scope) Resolve(task string, caller *entity.Entity) []dispatch.Handler {
	var out []dispatch.Handler
	for _, dom := range s.domains {
		if dom.Handlers == nil {
			continue
		}
		out = append(out, dom.Handlers.HandlersFor(task, caller)...)
	}
	return out
}

// Value looks up a published namespace key; the narrowest domain wins on
// collision, so iteration runs leaf-most first.
func (s Scope) Value(key string) (any, bool) {
	for i := len(s.domains) - 1; i >= 0; i-- {
		if value, ok := s.domains[i].Namespace[key]; ok {
			return value, true
		}
	}
	return nil, false
}

// Templates returns the template factories in narrowest-first order, so that
// on a priority tie the most specific domain provides.
func (s Scope) Templates() []resolve.Template {
	var out []resolve.Template
	for i := len(s.domains) - 1; i >= 0; i-- {
		out = append(out, s.domains[i].Templates...)
	}
	return out
}
