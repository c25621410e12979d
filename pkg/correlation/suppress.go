package correlation

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"mini-siem/pkg/events"
)

// Suppressor drops a detection when the same {address, attack type} fired
// within the cooldown. A zero cooldown lets everything through.
type Suppressor struct {
	cooldown atomic.Int64
	seen     *lru.Cache[string, time.Time]
}

// NewSuppressor returns a suppressor remembering up to size keys.
func NewSuppressor(cooldown time.Duration, size int) *Suppressor {
	if size <= 0 {
		size = 10000
	}
	seen, _ := lru.New[string, time.Time](size)
	s := &Suppressor{seen: seen}
	s.cooldown.Store(int64(cooldown))
	return s
}

// SetCooldown changes the cooldown for subsequent calls.
func (s *Suppressor) SetCooldown(d time.Duration) { s.cooldown.Store(int64(d)) }

// Filter returns the detections that are not repeats, recording them as fired at now.
func (s *Suppressor) Filter(ds []events.Detection, now time.Time) []events.Detection {
	if s == nil {
		return ds
	}
	cooldown := time.Duration(s.cooldown.Load())
	if cooldown <= 0 {
		return ds
	}
	out := ds[:0:0]
	for _, d := range ds {
		key := d.SrcIP + "|" + string(d.AttackType)
		if last, ok := s.seen.Get(key); ok && now.Sub(last) < cooldown {
			continue
		}
		s.seen.Add(key, now)
		out = append(out, d)
	}
	return out
}
