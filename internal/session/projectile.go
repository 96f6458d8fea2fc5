package session

import (
	"fmt"
	"math"
)

const (
	ProjectileSpeed    = 30.0 // meters/second
	ProjectileLifetime = 1.5  // seconds
	ProjectileRadius   = 0.2  // meters
	DirectionEpsilon   = 1e-9 // minimum direction magnitude to accept
	DefaultHitDamage   = 20
)

// ProjectileState is an immutable copy handed out in snapshots.
type ProjectileState struct {
	ID      string  `json:"id"`
	OwnerID string  `json:"ownerId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	VX      float64 `json:"vx"`
	VY      float64 `json:"vy"`
}

// projectile is the session-owned mutable record. Construction rejects a
// direction whose magnitude falls below DirectionEpsilon.
type projectile struct {
	id         string
	ownerID    string
	x, y       float64
	dirX, dirY float64
	spawnAt    float64 // session time seconds
	active     bool
}

func newProjectile(id, ownerID string, x, y, dirX, dirY, spawnAt float64) (*projectile, error) {
	mag := math.Hypot(dirX, dirY)
	if mag < DirectionEpsilon {
		return nil, fmt.Errorf("projectile direction magnitude %.3e below epsilon", mag)
	}
	return &projectile{
		id:      id,
		ownerID: ownerID,
		x:       x,
		y:       y,
		dirX:    dirX / mag,
		dirY:    dirY / mag,
		spawnAt: spawnAt,
		active:  true,
	}, nil
}

// advance moves the projectile along its fixed unit direction; a no-op if inactive.
func (p *projectile) advance(dt float64) {
	if !p.active {
		return
	}
	p.x += p.dirX * ProjectileSpeed * dt
	p.y += p.dirY * ProjectileSpeed * dt
}

func (p *projectile) expired(now float64) bool {
	return now-p.spawnAt >= ProjectileLifetime
}

// collidesWith is a fixed-radius disk-disk test against a target at (tx, ty).
func (p *projectile) collidesWith(tx, ty float64) bool {
	dx := p.x - tx
	dy := p.y - ty
	r := PlayerRadius + ProjectileRadius
	return dx*dx+dy*dy <= r*r
}

func (p *projectile) snapshot() ProjectileState {
	return ProjectileState{
		ID:      p.id,
		OwnerID: p.ownerID,
		X:       p.x,
		Y:       p.y,
		VX:      p.dirX * ProjectileSpeed,
		VY:      p.dirY * ProjectileSpeed,
	}
}
