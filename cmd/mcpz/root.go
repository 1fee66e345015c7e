// ABOUTME: Cobra command tree for mcpz: server subcommands, version, shared flags
// ABOUTME: Flags override config file values only when set on the command line

package main

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/2389/mcpz/internal/config"
	"github.com/2389/mcpz/internal/version"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 3000
)

// globalOptions holds the flags shared by every server subcommand.
type globalOptions struct {
	configPath string
	http       bool
	host       string
	port       int
	tls        bool
	certFile   string
	keyFile    string
	origins    []string
	sessionTTL time.Duration
	verbose    bool
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mcpz",
		Short: "Run sandboxed MCP servers over stdio or HTTP",
		Long: `mcpz runs built-in Model Context Protocol servers for shell commands,
filesystem access and SQL databases.

By default a server speaks newline-delimited JSON-RPC on stdin/stdout.
With --http it serves the Streamable HTTP transport at /mcp instead.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.AddCommand(newServerCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mcpz version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mcpz %s\n", version.Version)
		},
	}
}

func newServerCommand() *cobra.Command {
	opts := &globalOptions{}
	var list bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run a built-in MCP server (shell, filesystem, sql)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if list {
				printServerList(cmd)
				return nil
			}
			return cmd.Help()
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "l", false, "List available built-in MCP servers")

	opts.register(cmd.PersistentFlags())

	cmd.AddCommand(newShellCommand(opts))
	cmd.AddCommand(newFilesystemCommand(opts))
	cmd.AddCommand(newSQLCommand(opts))

	return cmd
}

// register adds the shared server flags to flags.
func (o *globalOptions) register(flags *pflag.FlagSet) {
	flags.StringVar(&o.configPath, "config", "", "Config file (default $MCPZ_CONFIG or ~/.config/mcpz/config.yaml)")
	flags.BoolVar(&o.http, "http", false, "Use HTTP transport instead of stdio")
	flags.StringVarP(&o.host, "host", "H", defaultHost, "Address to bind to (HTTP only)")
	flags.IntVarP(&o.port, "port", "p", defaultPort, "Port to listen on (HTTP only)")
	flags.BoolVar(&o.tls, "tls", false, "Enable HTTPS (self-signed certificate unless --cert/--key)")
	flags.StringVar(&o.certFile, "cert", "", "Path to TLS certificate (PEM)")
	flags.StringVar(&o.keyFile, "key", "", "Path to TLS private key (PEM)")
	flags.StringSliceVar(&o.origins, "origin", nil, "Allowed browser origins (comma-separated or repeated, * allows any)")
	flags.DurationVar(&o.sessionTTL, "session-ttl", time.Hour, "Idle lifetime of an HTTP session")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "Enable debug logging to stderr")
}

func printServerList(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Available servers:")
	fmt.Fprintln(out, "  shell       Execute shell commands")
	fmt.Fprintln(out, "  filesystem  Filesystem operations")
	fmt.Fprintln(out, "  sql         SQL database queries")
}

// loadConfig reads the config file and applies the shared flags on top.
func loadConfig(flags *pflag.FlagSet, opts *globalOptions) (*config.Config, string, error) {
	cfg, path, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	applyGlobalFlags(flags, opts, cfg)
	return cfg, path, nil
}

// applyGlobalFlags copies explicitly set shared flags into cfg.
func applyGlobalFlags(flags *pflag.FlagSet, opts *globalOptions, cfg *config.Config) {
	hostSet, portSet := flags.Changed("host"), flags.Changed("port")
	if hostSet || portSet {
		cfg.Server.Addr = overrideAddr(cfg.Server.Addr, opts.host, opts.port, hostSet, portSet)
	}
	if flags.Changed("tls") {
		cfg.Server.TLS.Enabled = opts.tls
	}
	if flags.Changed("cert") {
		cfg.Server.TLS.CertFile = opts.certFile
		cfg.Server.TLS.Enabled = true
	}
	if flags.Changed("key") {
		cfg.Server.TLS.KeyFile = opts.keyFile
		cfg.Server.TLS.Enabled = true
	}
	if flags.Changed("origin") {
		cfg.Server.AllowedOrigins = opts.origins
	}
	if flags.Changed("session-ttl") {
		cfg.Server.SessionTTL = opts.sessionTTL
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
}

// overrideAddr replaces the host and/or port of addr.
func overrideAddr(addr, host string, port int, hostSet, portSet bool) string {
	curHost, curPort, err := net.SplitHostPort(addr)
	if err != nil {
		curHost, curPort = defaultHost, strconv.Itoa(defaultPort)
	}
	if hostSet {
		curHost = host
	}
	if portSet {
		curPort = strconv.Itoa(port)
	}
	return net.JoinHostPort(curHost, curPort)
}

// seconds converts a --timeout value given in whole seconds.
func seconds(n uint) time.Duration {
	return time.Duration(n) * time.Second
}
