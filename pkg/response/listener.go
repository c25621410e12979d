// Package response applies block-list commands received over NATS (block, unblock, list).
package response

import (
	"context"
	"encoding/json"
	"net/netip"
	"time"

	"github.com/nats-io/nats.go"

	"mini-siem/pkg/events"
	"mini-siem/pkg/export"
	"mini-siem/pkg/logger"
	"mini-siem/pkg/store"
)

const (
	DefaultSubject = "siem.commands"
	handleTimeout  = 10 * time.Second
)

// Command is one request on the command subject.
type Command struct {
	Action    string `json:"action"` // block, unblock, list
	IP        string `json:"ip,omitempty"`
	Reason    string `json:"reason,omitempty"`
	BlockedBy string `json:"blocked_by,omitempty"`
}

// Reply is sent back when the request carries a reply subject.
type Reply struct {
	OK      bool               `json:"ok"`
	Result  string             `json:"result,omitempty"`
	Error   string             `json:"error,omitempty"`
	Blocked []events.BlockedIP `json:"blocked,omitempty"`
}

// Listener subscribes to block-list commands and applies them to the store.
type Listener struct {
	nc       *nats.Conn
	subject  string
	store    store.BlockStore
	exporter *export.Exporter
	sub      *nats.Subscription
}

// NewListener creates a command listener. exp may be nil.
func NewListener(nc *nats.Conn, subject string, st store.BlockStore, exp *export.Exporter) *Listener {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Listener{nc: nc, subject: subject, store: st, exporter: exp}
}

// Start subscribes to the command subject.
func (l *Listener) Start() error {
	sub, err := l.nc.Subscribe(l.subject, func(m *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
		defer cancel()
		reply := l.Handle(ctx, m.Data)
		if m.Reply == "" {
			return
		}
		b, _ := json.Marshal(reply)
		if err := m.Respond(b); err != nil {
			logger.Warn("response: reply: %v", err)
		}
	})
	if err != nil {
		return err
	}
	l.sub = sub
	logger.Info("response: listening on %s", l.subject)
	return nil
}

// Stop unsubscribes.
func (l *Listener) Stop() {
	if l.sub != nil {
		l.sub.Unsubscribe()
	}
}

// Handle decodes and executes one command.
func (l *Listener) Handle(ctx context.Context, data []byte) Reply {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Reply{Error: "invalid command"}
	}
	switch cmd.Action {
	case "block":
		return l.block(ctx, cmd)
	case "unblock":
		return l.unblock(ctx, cmd)
	case "list":
		list, err := l.store.ListBlocked(ctx)
		if err != nil {
			logger.Error("response: list: %v", err)
			return Reply{Error: "block list unavailable"}
		}
		return Reply{OK: true, Result: "listed", Blocked: list}
	default:
		logger.Warn("response: unknown action %q", cmd.Action)
		return Reply{Error: "unknown action"}
	}
}

func (l *Listener) block(ctx context.Context, cmd Command) Reply {
	if _, err := netip.ParseAddr(cmd.IP); err != nil {
		return Reply{Error: "invalid ip"}
	}
	if cmd.BlockedBy == "" {
		cmd.BlockedBy = "nats"
	}
	res, err := l.store.Block(ctx, cmd.IP, cmd.Reason, cmd.BlockedBy)
	if err != nil {
		logger.Error("response: block %s: %v", cmd.IP, err)
		return Reply{Error: "block failed"}
	}
	if res == store.BlockInserted {
		logger.Info("response: blocked %s by %s", cmd.IP, cmd.BlockedBy)
		if err := l.exporter.BlockChange(events.BlockedIP{IP: cmd.IP, Reason: cmd.Reason, BlockedBy: cmd.BlockedBy, BlockedAt: time.Now()}, true); err != nil {
			logger.Warn("response: export block: %v", err)
		}
	}
	return Reply{OK: true, Result: res.String()}
}

func (l *Listener) unblock(ctx context.Context, cmd Command) Reply {
	ok, err := l.store.Unblock(ctx, cmd.IP)
	if err != nil {
		logger.Error("response: unblock %s: %v", cmd.IP, err)
		return Reply{Error: "unblock failed"}
	}
	if !ok {
		return Reply{Error: "not blocked"}
	}
	logger.Info("response: unblocked %s", cmd.IP)
	if err := l.exporter.BlockChange(events.BlockedIP{IP: cmd.IP}, false); err != nil {
		logger.Warn("response: export unblock: %v", err)
	}
	return Reply{OK: true, Result: "removed"}
}
