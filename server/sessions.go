package server

import (
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/chaos-io/bgcompare/session"
)

// sessionRegistry 会话按最后访问时间过期，过期项由 cron 定时清理
type sessionRegistry struct {
	c *cache.Cache
}

func newSessionRegistry(ttl time.Duration) *sessionRegistry {
	return &sessionRegistry{c: cache.New(ttl, 0)}
}

func (r *sessionRegistry) add(s *session.Session) {
	r.c.Set(s.ID, s, cache.DefaultExpiration)
}

// get 命中时顺带续期
func (r *sessionRegistry) get(id string) (*session.Session, bool) {
	v, ok := r.c.Get(id)
	if !ok {
		return nil, false
	}
	s := v.(*session.Session)
	r.c.Set(id, s, cache.DefaultExpiration)
	return s, true
}

func (r *sessionRegistry) count() int {
	return r.c.ItemCount()
}

func (r *sessionRegistry) sweep() {
	before := r.c.ItemCount()
	r.c.DeleteExpired()
	if n := before - r.c.ItemCount(); n > 0 {
		slog.Debug("expired sessions removed", "count", n)
	}
}
