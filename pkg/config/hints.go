package config

import "github.com/netmapper/netmapper/pkg/entity"

// ApplyHints pre-labels swept entities before orchestration begins: a
// Hint matches an entity by ip (and, if given, by open port). Name
// overrides always apply; Type only applies while the entity is still
// Unknown, so a hint can never downgrade an adapter's own classification.
// TokenEnvKey is recorded as metadata so the relevant platform adapter can
// later resolve a credential from that environment variable.
func ApplyHints(entities []*entity.Entity, hints []Hint) {
	for _, h := range hints {
		for _, e := range entities {
			if e.IP != h.IP {
				continue
			}
			if h.Port != 0 && !e.HasPort(h.Port) {
				continue
			}
			if h.Name != "" {
				e.Name = h.Name
			}
			if h.Type != "" && e.Type == entity.TypeUnknown {
				e.Type = entity.Type(h.Type)
			}
			if h.TokenEnvKey != "" {
				e.Metadata[entity.MetaHintTokenEnv] = entity.String(h.TokenEnvKey)
			}
		}
	}
}
