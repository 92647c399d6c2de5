package service

import "strings"

// AccessGate is a flat allow-list of access codes. With no codes configured
// every caller is let through.
type AccessGate struct {
	codes map[string]struct{}
}

func NewAccessGate(codes []string) *AccessGate {
	g := &AccessGate{codes: make(map[string]struct{}, len(codes))}
	for _, c := range codes {
		if c = strings.TrimSpace(c); c != "" {
			g.codes[c] = struct{}{}
		}
	}
	return g
}

func (g *AccessGate) Enabled() bool { return len(g.codes) > 0 }

func (g *AccessGate) Allow(code string) bool {
	if !g.Enabled() {
		return true
	}
	_, ok := g.codes[strings.TrimSpace(code)]
	return ok
}
