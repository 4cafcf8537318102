// Command guardd runs the guard security middleware in front of a demo ERP
// API and offers offline input scanning.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/giantswarm/guard"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configFile string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "guardd",
		Short: "ERP API security middleware",
		Long: `guardd protects an HTTP API with:
- Fixed-window rate limiting with progressive blocking
- Input validation, threat detection and sanitization
- Security event audit logging with webhook alerts`,
		Version:       fmt.Sprintf("%s (built: %s, commit: %s)", version, buildTime, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file path (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "log format: json or text")

	cmd.AddCommand(
		newServeCommand(opts),
		newValidateCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// loadViper returns the guard viper instance with the config file read, if any.
func (o *rootOptions) loadViper() (*viper.Viper, error) {
	v := guard.NewViper()
	if o.configFile != "" {
		v.SetConfigFile(o.configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// newLogger builds the process logger at the AUDIT_LOG_LEVEL level.
func (o *rootOptions) newLogger(level string) (*slog.Logger, error) {
	lvl, ok := guard.ParseLogLevel(level)
	if !ok {
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch o.logFormat {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", o.logFormat)
	}
}
