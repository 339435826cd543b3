package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/shopcord/internal/infra/discord"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show health, cache and rate limit state of a running instance",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "health server address (default localhost:<server.port>)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	addr := statusAddr
	if addr == "" {
		addr = fmt.Sprintf("localhost:%d", cfg.Server.Port)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Default)
	defer cancel()

	stats, err := fetchStats(ctx, http.DefaultClient, "http://"+addr+"/health/detailed")
	if err != nil {
		slog.Error("Failed to query health server", "addr", addr, "error", err)
		os.Exit(1)
	}
	printStats(os.Stdout, stats)
}

func fetchStats(ctx context.Context, client *http.Client, url string) (discord.Stats, error) {
	var stats discord.Stats

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return stats, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return stats, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return stats, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stats, fmt.Errorf("decode stats: %w", err)
	}
	return stats, nil
}

func printStats(out io.Writer, s discord.Stats) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)

	_, _ = fmt.Fprintln(w, "HEALTH\tERROR RATE\tCONSECUTIVE FAILURES\tAVG LATENCY")
	_, _ = fmt.Fprintf(w, "%s\t%.1f%%\t%d\t%s\n",
		s.Health.Status, s.Health.ErrorRate*100, s.Health.ConsecutiveFailures, s.Health.AverageLatency)
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "REQUESTS\tCACHE HITS\tSTALE HITS\tRETRIES\tRATE LIMITS\tP95\tP99\tRPM")
	_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%s\t%s\t%d\n",
		s.Metrics.TotalRequests, s.Metrics.CacheHits, s.Metrics.StaleHits, s.Metrics.Retries,
		s.Metrics.RateLimitHits, s.Metrics.P95Latency, s.Metrics.P99Latency, s.Metrics.RequestsPerMinute)
	_, _ = fmt.Fprintln(w)

	_, _ = fmt.Fprintln(w, "CACHE SIZE\tHIT RATE\tEVICTIONS\tDEDUPLICATED\tIN FLIGHT")
	_, _ = fmt.Fprintf(w, "%d/%d\t%.1f%%\t%d\t%d\t%d\n",
		s.Cache.Size, s.Cache.MaxSize, s.Cache.HitRate*100, s.Cache.Evictions,
		s.Coordinator.Deduplicated, s.Coordinator.InFlight)

	if len(s.RateLimits.BucketHits) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "BUCKET\tHITS")
		buckets := make([]string, 0, len(s.RateLimits.BucketHits))
		for b := range s.RateLimits.BucketHits {
			buckets = append(buckets, b)
		}
		sort.Strings(buckets)
		for _, b := range buckets {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", b, s.RateLimits.BucketHits[b])
		}
	}

	if len(s.Alerts) > 0 {
		_, _ = fmt.Fprintln(w)
		_, _ = fmt.Fprintln(w, "ALERT\tSEVERITY\tRAISED\tMESSAGE")
		for _, a := range s.Alerts {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Type, a.Severity, a.RaisedAt.Format(time.RFC3339), a.Message)
		}
	}
	_ = w.Flush()
}
