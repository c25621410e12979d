package main

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mini-siem/pkg/correlation"
	"mini-siem/pkg/events"
	"mini-siem/pkg/parser"
	"mini-siem/pkg/store"
)

const timeLayout = "2006-01-02 15:04:05"

func newBlockCmd(a *app) *cobra.Command {
	var reason, by string
	cmd := &cobra.Command{
		Use:   "block <ip>",
		Short: "Add an address to the block list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip := args[0]
			if _, err := netip.ParseAddr(ip); err != nil {
				return fmt.Errorf("invalid ip %q", ip)
			}
			st, _, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			res, err := st.Block(cmd.Context(), ip, reason, by)
			if err != nil {
				return err
			}
			if res == store.BlockAlreadyPresent {
				fmt.Fprintf(a.stdout, "%s already blocked\n", ip)
				return nil
			}
			fmt.Fprintf(a.stdout, "%s blocked\n", ip)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the address is blocked")
	cmd.Flags().StringVar(&by, "by", events.DefaultBlockedBy, "operator name recorded with the block")
	return cmd
}

func newUnblockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unblock <ip>",
		Short: "Remove an address from the block list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			ok, err := st.Unblock(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s is not blocked", args[0])
			}
			fmt.Fprintf(a.stdout, "%s unblocked\n", args[0])
			return nil
		},
	}
}

func newBlocksCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "blocks",
		Short: "List blocked addresses",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			list, err := st.ListBlocked(cmd.Context())
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(list)
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IP\tREASON\tBY\tBLOCKED AT")
			for _, b := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.IP, b.Reason, b.BlockedBy, b.BlockedAt.Local().Format(timeLayout))
			}
			return tw.Flush()
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show alert, detection and block counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			s, err := st.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if a.asJSON {
				return a.printJSON(s)
			}
			fmt.Fprintf(a.stdout, "alerts:     %d\n", s.TotalAlerts)
			fmt.Fprintf(a.stdout, "addresses:  %d\n", s.UniqueAddresses)
			fmt.Fprintf(a.stdout, "detections: %d\n", s.DetectionCount)
			fmt.Fprintf(a.stdout, "blocked:    %d\n", s.BlockedCount)
			sevs := make([]events.Severity, 0, len(s.BySeverity))
			for sev := range s.BySeverity {
				sevs = append(sevs, sev)
			}
			sort.Slice(sevs, func(i, j int) bool { return sevs[i].Rank() > sevs[j].Rank() })
			for _, sev := range sevs {
				fmt.Fprintf(a.stdout, "  %-8s %d\n", sev, s.BySeverity[sev])
			}
			return nil
		},
	}
}

func newPurgeCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete alerts older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cfg, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			if days <= 0 {
				days = cfg.Store.RetentionDays
			}
			if days <= 0 {
				return fmt.Errorf("no retention window: pass --days")
			}
			n, err := st.PurgeOlderThan(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "purged %d alerts older than %d days\n", n, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "age in days; default store.retention_days")
	return cmd
}

func newAlertsCmd(a *app) *cobra.Command {
	var limit, minutes int
	var ip string
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List recent alerts, optionally for one source address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			var list []events.Alert
			if ip != "" {
				list, err = st.AlertsByAddress(cmd.Context(), ip, time.Duration(minutes)*time.Minute)
			} else {
				list, err = st.RecentAlerts(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			return a.printAlerts(list)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum alerts")
	cmd.Flags().StringVar(&ip, "ip", "", "only alerts from this source address")
	cmd.Flags().IntVar(&minutes, "minutes", 60, "window for --ip")
	return cmd
}

func (a *app) printAlerts(list []events.Alert) error {
	if a.asJSON {
		return a.printJSON(list)
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSEVERITY\tSOURCE\tDESTINATION\tSIGNATURE")
	for _, al := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s:%d\t%s:%d\t%s\n", al.Timestamp.Local().Format(timeLayout), al.Severity,
			al.SrcIP, al.SrcPort, al.DstIP, al.DstPort, al.Signature)
	}
	return tw.Flush()
}

func newDetectionsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "detections",
		Short: "List recent correlation detections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			list, err := st.RecentDetections(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return a.printDetections(list)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum detections")
	return cmd
}

func (a *app) printDetections(list []events.Detection) error {
	if a.asJSON {
		return a.printJSON(list)
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEVERITY\tTYPE\tSOURCE\tALERTS\tSIGNATURES\tFIRST\tLAST")
	for _, d := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n", d.Severity, d.AttackType, d.SrcIP, d.AlertCount,
			d.UniqueSignatureCount, d.FirstAlertTime.Local().Format(timeLayout), d.LastAlertTime.Local().Format(timeLayout))
	}
	return tw.Flush()
}

// readLog parses every line of path and reports how many lines nothing recognised.
func readLog(path string) ([]events.Alert, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	p := parser.New()
	var alerts []events.Alert
	skipped := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if al, ok := p.Parse(line); ok {
			alerts = append(alerts, al)
		} else {
			skipped++
		}
	}
	return alerts, skipped, sc.Err()
}

func newParseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse an alert log and print the recognised alerts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alerts, skipped, err := readLog(args[0])
			if err != nil {
				return err
			}
			if err := a.printAlerts(alerts); err != nil {
				return err
			}
			fmt.Fprintf(a.stderr, "%d alerts, %d lines skipped\n", len(alerts), skipped)
			return nil
		},
	}
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var window, alertThreshold, sigThreshold int
	var wallClock bool
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Run correlation over an alert log offline",
		Long: "Parses the whole file and runs the correlation detectors once. The recency window is\n" +
			"measured back from the newest alert in the file unless --wall-clock is set.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			alerts, skipped, err := readLog(args[0])
			if err != nil {
				return err
			}
			var opts []correlation.Option
			if !wallClock {
				anchor := latest(alerts)
				opts = append(opts, correlation.WithClock(func() time.Time { return anchor }))
			}
			engine := correlation.NewEngine(opts...)
			engine.SetTimeWindow(firstPositive(window, cfg.Correlation.WindowMinutes))
			engine.SetAlertThreshold(firstPositive(alertThreshold, cfg.Correlation.AlertThreshold))
			engine.SetSignatureThreshold(firstPositive(sigThreshold, cfg.Correlation.SignatureThreshold))

			ds := engine.Analyze(alerts)
			if err := a.printDetections(ds); err != nil {
				return err
			}
			fmt.Fprintf(a.stderr, "%d alerts (%d lines skipped), %d detections\n", len(alerts), skipped, len(ds))
			return nil
		},
	}
	cmd.Flags().IntVar(&window, "window", 0, "recency window in minutes; default correlation.window_minutes")
	cmd.Flags().IntVar(&alertThreshold, "alert-threshold", 0, "high-volume threshold; default from config")
	cmd.Flags().IntVar(&sigThreshold, "signature-threshold", 0, "multi-signature threshold; default from config")
	cmd.Flags().BoolVar(&wallClock, "wall-clock", false, "measure the window from the current time")
	return cmd
}

// latest returns just past the newest alert time so the newest alert falls inside the window.
func latest(alerts []events.Alert) time.Time {
	var t time.Time
	for _, a := range alerts {
		if a.Timestamp.After(t) {
			t = a.Timestamp
		}
	}
	if t.IsZero() {
		return time.Now()
	}
	return t.Add(time.Second)
}

func firstPositive(vals ...int) int {
	for _, v := range vals {
		if v > 0 {
			return v
		}
	}
	return 0
}
