package correlation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mini-siem/pkg/events"
)

func TestSuppressor(t *testing.T) {
	d := events.Detection{SrcIP: "203.0.113.7", AttackType: events.AttackHighVolume}
	other := events.Detection{SrcIP: "203.0.113.7", AttackType: events.AttackRapidSequence}

	s := NewSuppressor(10*time.Minute, 0)
	assert.Len(t, s.Filter([]events.Detection{d, other}, now), 2)
	assert.Empty(t, s.Filter([]events.Detection{d}, now.Add(5*time.Minute)))
	assert.Len(t, s.Filter([]events.Detection{d}, now.Add(11*time.Minute)), 1)
}

func TestSuppressor_ZeroCooldownRepeats(t *testing.T) {
	d := events.Detection{SrcIP: "203.0.113.7", AttackType: events.AttackHighVolume}
	s := NewSuppressor(0, 0)
	assert.Len(t, s.Filter([]events.Detection{d}, now), 1)
	assert.Len(t, s.Filter([]events.Detection{d}, now), 1)

	var nilS *Suppressor
	assert.Len(t, nilS.Filter([]events.Detection{d}, now), 1)
}
