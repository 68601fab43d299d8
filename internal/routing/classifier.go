package routing

import (
	"errors"
	"strings"
)

// RouteClass decides the error format and authorization applied to a path.
type RouteClass string

const (
	RouteClassInternalAPI RouteClass = "internal_api"
	RouteClassPublicAPI   RouteClass = "public_api"
	RouteClassOps         RouteClass = "ops"
)

// Classifier maps request paths to the route class declared in the allowlist.
// Paths outside the allowlist inherit the class of the allowlisted routes
// under the same top-level segment, so /fields/a/b/c still answers as an API.
type Classifier struct {
	exact    map[string]RouteClass
	patterns []pathPatternRoute
	roots    map[string]RouteClass
}

func NewClassifier(a Allowlist, entrypoint string) (*Classifier, error) {
	ep, ok := a.Entrypoints[entrypoint]
	if !ok {
		return nil, errors.New("allowlist: missing entrypoint")
	}
	if len(ep.Routes) == 0 {
		return nil, errors.New("allowlist: entrypoint routes empty")
	}

	c := &Classifier{
		exact: make(map[string]RouteClass, len(ep.Routes)),
		roots: make(map[string]RouteClass),
	}
	for _, r := range ep.Routes {
		if r.Path == "" || r.RouteClass == "" {
			return nil, errors.New("allowlist: invalid route")
		}
		rc := RouteClass(r.RouteClass)
		if root := rootSegment(r.Path); root != "" && !isParamSegment(root) {
			if prev, seen := c.roots[root]; seen && prev != rc {
				return nil, errors.New("allowlist: conflicting route classes under /" + root)
			}
			c.roots[root] = rc
		}
		if p, ok := parsePathPattern(r.Path); ok {
			c.patterns = append(c.patterns, pathPatternRoute{pattern: p, rc: rc})
			continue
		}
		c.exact[r.Path] = rc
	}
	return c, nil
}

func (c *Classifier) Classify(path string) RouteClass {
	if rc, ok := c.exact[path]; ok {
		return rc
	}
	for _, p := range c.patterns {
		if p.pattern.Match(path) {
			return p.rc
		}
	}
	if rc, ok := c.roots[rootSegment(path)]; ok {
		return rc
	}
	return RouteClassInternalAPI
}

func rootSegment(path string) string {
	root, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	return root
}

type pathPatternRoute struct {
	pattern PathPattern
	rc      RouteClass
}
