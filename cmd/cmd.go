package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jmorganca/speedtest/api"
	"github.com/jmorganca/speedtest/envconfig"
	"github.com/jmorganca/speedtest/logutil"
	"github.com/jmorganca/speedtest/speedtest"
	"github.com/jmorganca/speedtest/utils/backoff"
	"github.com/jmorganca/speedtest/version"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

// requestFromFlags builds the test request for kind from the command line,
// filling gaps with the configured defaults.
func requestFromFlags(cmd *cobra.Command, kind api.Kind, args []string) (*api.TestRequest, error) {
	req := api.TestRequest{URL: envconfig.DownloadURL}
	if kind == api.KindUpload {
		req.URL = envconfig.UploadURL
	}

	if len(args) > 0 {
		req.URL = args[0]
	}

	duration := must(cmd.Flags().GetDuration("duration"))
	if duration < 0 {
		return nil, fmt.Errorf("invalid duration %s", duration)
	} else if duration == 0 {
		duration = envconfig.Duration
	}
	req.DurationCapMs = uint64(duration.Milliseconds())

	if kind == api.KindUpload {
		chunkSize := must(cmd.Flags().GetInt64("chunk-size"))
		byteCap := must(cmd.Flags().GetInt64("byte-cap"))
		if chunkSize < 0 || byteCap < 0 {
			return nil, errors.New("chunk size and byte cap must not be negative")
		}

		if chunkSize == 0 {
			chunkSize = envconfig.ChunkSize
		}

		if byteCap == 0 {
			byteCap = envconfig.ByteCap
		}

		req.ChunkSizeBytes = uint64(chunkSize)
		req.ByteCap = uint64(byteCap)
	}

	return &req, nil
}

// TestHandler runs a test of kind, either in process or on the server
// named by SPEEDTEST_HOST when --remote is set.
func TestHandler(kind api.Kind) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		req, err := requestFromFlags(cmd, kind, args)
		if err != nil {
			return err
		}

		r := newRenderer(cmd.OutOrStdout(), kind, req.URL, must(cmd.Flags().GetBool("json")))
		if !r.json && term.IsTerminal(int(os.Stderr.Fd())) {
			r.startProgress(os.Stderr)
		}

		if must(cmd.Flags().GetBool("remote")) {
			err = runRemote(cmd.Context(), kind, req, r.handle)
		} else {
			err = runLocal(cmd.Context(), kind, req, r.handle)
		}

		return r.close(err)
	}
}

func runLocal(ctx context.Context, kind api.Kind, req *api.TestRequest, fn api.EventFunc) error {
	engine := speedtest.New()
	defer engine.Shutdown()

	stream, _, err := engine.Start(ctx, kind, speedtest.ConfigFromRequest(*req))
	if err != nil {
		return err
	}
	defer stream.Close()

	for ev := range stream.Events() {
		if err := fn(ev); err != nil {
			return err
		}
	}

	return nil
}

// runRemote streams a test from the server. Interrupting the command asks
// the server to cancel so the partial result still arrives.
func runRemote(ctx context.Context, kind api.Kind, req *api.TestRequest, fn api.EventFunc) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	// the server may still be starting
	if err := backoff.Retry(ctx, 5, 500*time.Millisecond, func() error { return client.Heartbeat(ctx) }); err != nil {
		return fmt.Errorf("could not connect to speedtest server at %s: %w", envconfig.Host(), err)
	}

	stop := context.AfterFunc(ctx, func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Cancel(cctx, kind); err != nil {
			slog.Warn("could not cancel remote test", "kind", kind, "error", err)
		}
	})
	defer stop()

	switch kind {
	case api.KindUpload:
		return client.Upload(context.WithoutCancel(ctx), req, fn)
	default:
		return client.Download(context.WithoutCancel(ctx), req, fn)
	}
}

func addTestFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("duration", 0, "Maximum test duration (default from SPEEDTEST_DURATION or 10s)")
	cmd.Flags().Bool("remote", false, "Run the test on the server at SPEEDTEST_HOST")
	cmd.Flags().Bool("json", false, "Print events as JSON lines")
}

func NewCLI() *cobra.Command {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel))

	rootCmd := &cobra.Command{
		Use:   "speedtest",
		Short: "Network throughput tester",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Version: version.Version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
		},
	}

	cobra.EnableCommandSorting = false

	downloadCmd := &cobra.Command{
		Use:     "download [url]",
		Aliases: []string{"down"},
		Short:   "Measure download throughput",
		Args:    cobra.MaximumNArgs(1),
		RunE:    TestHandler(api.KindDownload),
	}

	addTestFlags(downloadCmd)

	uploadCmd := &cobra.Command{
		Use:     "upload [url]",
		Aliases: []string{"up"},
		Short:   "Measure upload throughput",
		Args:    cobra.MaximumNArgs(1),
		RunE:    TestHandler(api.KindUpload),
	}

	addTestFlags(uploadCmd)
	uploadCmd.Flags().Int64("chunk-size", 0, "Upload chunk size in bytes (default from SPEEDTEST_CHUNK_SIZE or 262144)")
	uploadCmd.Flags().Int64("byte-cap", 0, "Maximum bytes to send (default from SPEEDTEST_BYTE_CAP or 209715200)")

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the speedtest server",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Args:  cobra.ExactArgs(0),
		RunE:  ConfigHandler,
	}

	configCmd.Flags().Bool("example", false, "Print an example config file")

	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["SPEEDTEST_HOST"]}
	for _, cmd := range []*cobra.Command{downloadCmd, uploadCmd} {
		cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage(append(envs,
			envVars["SPEEDTEST_DOWNLOAD_URL"],
			envVars["SPEEDTEST_UPLOAD_URL"],
			envVars["SPEEDTEST_DURATION"],
		)))
	}

	serveCmd.SetUsageTemplate(serveCmd.UsageTemplate() + envUsage(append(envs,
		envVars["SPEEDTEST_ORIGINS"],
		envVars["SPEEDTEST_DEBUG"],
	)))

	rootCmd.AddCommand(
		downloadCmd,
		uploadCmd,
		serveCmd,
		configCmd,
	)

	return rootCmd
}

func envUsage(envs []envconfig.EnvVar) string {
	s := "\nEnvironment Variables:\n"
	for _, e := range envs {
		s += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}
	return s
}

// hostLabel is the part of a test URL shown next to the progress bar.
func hostLabel(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Host
}
