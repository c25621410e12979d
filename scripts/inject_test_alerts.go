// Append a burst of Snort fast-alert lines from one attacker to the watched log for pipeline verification.
// Run: go run scripts/inject_test_alerts.go [-log path] [-n 8] [-src 203.0.113.66] [-watch]
// Requires: siem running in live mode on the same log. -watch also needs NATS output enabled.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

var signatures = []struct {
	sid            string
	msg            string
	classification string
	priority       int
	dport          int
}{
	{"1:2001219:20", "ET SCAN Potential SSH Scan", "Attempted Information Leak", 2, 22},
	{"1:2006546:9", "ET SCAN LibSSH Based Frequent SSH Connections", "Misc activity", 3, 22},
	{"1:2019284:3", "ET WEB_SERVER SQL Injection Attempt", "Web Application Attack", 1, 80},
	{"1:2010935:3", "ET SCAN Suspicious inbound to MySQL port 3306", "Potentially Bad Traffic", 2, 3306},
}

func main() {
	logPath := flag.String("log", "/var/log/snort/alert_fast.log", "alert log the daemon tails")
	n := flag.Int("n", 8, "number of lines")
	src := flag.String("src", "203.0.113.66", "attacker source address")
	watch := flag.Bool("watch", false, "wait for a detection on NATS after injecting")
	flag.Parse()
	if v := os.Getenv("SIEM_LOG_PATH"); v != "" {
		*logPath = v
	}

	var sub *nats.Subscription
	var detections chan *nats.Msg
	if *watch {
		natsURL := "nats://127.0.0.1:4222"
		if u := os.Getenv("NATS_URL"); u != "" {
			natsURL = u
		}
		nc, err := nats.Connect(natsURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "NATS connect: %v\n", err)
			os.Exit(1)
		}
		defer nc.Close()
		detections = make(chan *nats.Msg, 16)
		sub, err = nc.ChanSubscribe("siem.detections", detections)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Subscribe: %v\n", err)
			os.Exit(1)
		}
		defer sub.Unsubscribe()
	}

	f, err := os.OpenFile(*logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", *logPath, err)
		os.Exit(1)
	}
	start := time.Now()
	for i := 0; i < *n; i++ {
		s := signatures[i%len(signatures)]
		ts := start.Add(time.Duration(i) * 2 * time.Second)
		line := fmt.Sprintf("%s  [**] [%s] %s [**] [Classification: %s] [Priority: %d] {TCP} %s:%d -> 10.0.0.5:%d\n",
			ts.Format("01/02-15:04:05.000000"), s.sid, s.msg, s.classification, s.priority, *src, 40000+i, s.dport)
		if _, err := f.WriteString(line); err != nil {
			fmt.Fprintf(os.Stderr, "write: %v\n", err)
			os.Exit(1)
		}
	}
	f.Close()
	fmt.Printf("OK: appended %d alerts from %s to %s\n", *n, *src, *logPath)

	if !*watch {
		fmt.Println("Check detections (siemctl detections) after the next correlation pass.")
		return
	}
	timeout := time.After(90 * time.Second)
	for {
		select {
		case m := <-detections:
			var rec struct {
				Payload struct {
					AttackType string `json:"attack_type"`
					SrcIP      string `json:"src_ip"`
					Severity   string `json:"severity"`
				} `json:"payload"`
			}
			if json.Unmarshal(m.Data, &rec) != nil || rec.Payload.SrcIP != *src {
				continue
			}
			fmt.Printf("OK: %s %s from %s\n", rec.Payload.Severity, rec.Payload.AttackType, rec.Payload.SrcIP)
			return
		case <-timeout:
			fmt.Fprintln(os.Stderr, "no detection within 90s")
			os.Exit(1)
		}
	}
}
