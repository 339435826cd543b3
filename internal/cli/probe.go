package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/shopcord/internal/control"
	"github.com/vietddude/shopcord/internal/infra/discord"
)

var (
	probeToken  string
	probeGuild  string
	probeRepeat int
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Call the Discord API through the resilience layer and print the result",
	Long: `Probe fetches the current user and guilds for an OAuth2 token, or a guild
with its channels and roles using the bot token, then prints component stats.`,
	Run: runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeToken, "token", "", "OAuth2 access token")
	probeCmd.Flags().StringVar(&probeGuild, "guild", "", "guild ID to fetch with the bot token")
	probeCmd.Flags().IntVar(&probeRepeat, "repeat", 1, "number of times to repeat each call")
	probeCmd.MarkFlagsOneRequired("token", "guild")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	client := control.NewClient(cfg, slog.Default())
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Coordinator.Timeout)
	defer cancel()

	for i := range max(probeRepeat, 1) {
		if err := probeOnce(ctx, client); err != nil {
			slog.Error("Probe failed", "attempt", i+1, "error", err)
			os.Exit(1)
		}
	}

	fmt.Println()
	printStats(os.Stdout, client.Stats())
}

func probeOnce(ctx context.Context, client *discord.Client) error {
	if probeToken != "" {
		user, meta, err := client.GetCurrentUser(ctx, probeToken)
		if err != nil {
			return fmt.Errorf("get current user: %w", err)
		}
		logMeta("User", meta, "id", user.ID, "username", user.Username)

		guilds, meta, err := client.GetUserGuilds(ctx, probeToken)
		if err != nil {
			return fmt.Errorf("get user guilds: %w", err)
		}
		logMeta("Guilds", meta, "count", len(guilds))
	}

	if probeGuild != "" {
		guild, meta, err := client.GetGuild(ctx, probeGuild)
		if err != nil {
			return fmt.Errorf("get guild: %w", err)
		}
		logMeta("Guild", meta, "name", guild.Name, "members", guild.ApproximateMemberCount)

		channels, meta, err := client.GetGuildChannels(ctx, probeGuild)
		if err != nil {
			return fmt.Errorf("get guild channels: %w", err)
		}
		logMeta("Channels", meta, "count", len(channels))

		roles, meta, err := client.GetGuildRoles(ctx, probeGuild)
		if err != nil {
			return fmt.Errorf("get guild roles: %w", err)
		}
		logMeta("Roles", meta, "count", len(roles))
	}
	return nil
}

func logMeta(msg string, meta discord.Meta, args ...any) {
	args = append(args, "cache_hit", meta.CacheHit, "stale", meta.Stale, "degraded", meta.Degraded)
	slog.Info(msg, args...)
}
