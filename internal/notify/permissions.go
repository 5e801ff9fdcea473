package notify

import (
	"context"
	"sync"

	"prativedak/internal/config"
	"prativedak/internal/model"
)

// StaticPermissions reports the grants the phone synced in its config.
// Grants can be changed at runtime through Set.
type StaticPermissions struct {
	mu      sync.RWMutex
	granted map[model.Permission]bool
}

func NewStaticPermissions(cfg config.PermissionsConfig) *StaticPermissions {
	p := &StaticPermissions{}
	p.UpdateConfig(cfg)
	return p
}

func (p *StaticPermissions) UpdateConfig(cfg config.PermissionsConfig) {
	p.mu.Lock()
	p.granted = map[model.Permission]bool{
		model.PermissionLocation: cfg.Location,
		model.PermissionCall:     cfg.Call,
		model.PermissionSMS:      cfg.SMS,
	}
	p.mu.Unlock()
}

func (p *StaticPermissions) Granted(_ context.Context, perm model.Permission) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.granted[perm]
}

func (p *StaticPermissions) Set(perm model.Permission, granted bool) {
	p.mu.Lock()
	p.granted[perm] = granted
	p.mu.Unlock()
}

func (p *StaticPermissions) Snapshot() map[model.Permission]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[model.Permission]bool, len(p.granted))
	for k, v := range p.granted {
		out[k] = v
	}
	return out
}
