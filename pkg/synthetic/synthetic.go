// Package synthetic fabricates plausible IDS alerts when no real log source is available.
package synthetic

import (
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"mini-siem/pkg/events"
)

var Signatures = []string{
	"Potential SSH Brute Force",
	"Web Application SQL Injection Attempt",
	"Port Scanning Detected",
	"Unauthorized Data Transfer",
	"Suspicious DNS Query",
	"Malware Command and Control Traffic",
	"Directory Traversal Attempt",
	"Buffer Overflow Attempt",
	"Denial of Service Attack",
	"Suspicious Network Activity",
}

var (
	protocols = []string{"TCP", "UDP", "ICMP", "HTTP", "HTTPS"}
	dstPorts  = []int{22, 80, 443, 3306, 5432}
)

const (
	dstIP          = "10.0.0.1"
	classification = "Suspicious Activity"
	maxAge         = time.Hour
)

// Generator is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// New returns a generator. seed 0 seeds from the clock.
func New(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed)), now: time.Now}
}

// Alert returns one alert from a 192.168.0.0/16 source, timestamped within the last hour.
func (g *Generator) Alert() events.Alert {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.alert()
}

// Batch returns n alerts.
func (g *Generator) Batch(n int) []events.Alert {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]events.Alert, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.alert())
	}
	return out
}

func (g *Generator) alert() events.Alert {
	prio := strconv.Itoa(1 + g.rng.Intn(3))
	src := fmt.Sprintf("192.168.%d.%d", g.rng.Intn(256), 1+g.rng.Intn(254))
	srcPort := 1024 + g.rng.Intn(65535-1024+1)
	sig := Signatures[g.rng.Intn(len(Signatures))]
	proto := protocols[g.rng.Intn(len(protocols))]
	dport := dstPorts[g.rng.Intn(len(dstPorts))]
	return events.Alert{
		Timestamp:      g.now().Add(-time.Duration(g.rng.Int63n(int64(maxAge/time.Second)+1)) * time.Second),
		Signature:      sig,
		Classification: classification,
		Priority:       prio,
		Severity:       events.SeverityFromPriority(prio),
		Protocol:       proto,
		SrcIP:          src,
		SrcPort:        srcPort,
		DstIP:          dstIP,
		DstPort:        dport,
		Message:        fmt.Sprintf("%s - %s:%d -> %s:%d", sig, src, srcPort, dstIP, dport),
	}
}
