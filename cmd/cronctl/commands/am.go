package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/cronctl/am"
	"github.com/teranos/cronctl/errors"
	"github.com/teranos/cronctl/pulse/reconcile"
	"github.com/teranos/cronctl/pulse/registry"
	"github.com/teranos/cronctl/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.AM + " Inspect and validate configuration",
	Long: sym.AM + ` am - Inspect and validate cronctl configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (CRONCTL_* prefix)
2. Project config (./am.toml, searched up directories)
3. User config (~/.cronctl/am.toml)
4. System config (/etc/cronctl/am.toml)
5. Default values

Examples:
  cronctl am show                     # Show current configuration
  cronctl am show --format json       # Show configuration in JSON format
  cronctl am get pulse.queue_size     # Get specific config value
  cronctl am validate                 # Validate config and job definitions
  cronctl am where                    # Show where each setting comes from`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current cronctl configuration merged from all sources",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Long:  "Get a specific configuration value using dot notation (e.g., database.path, pulse.queue_size)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	Long: `Validate the current configuration and build the job registry from it.

Extension cadences and jobs that would be dropped at startup are listed.`,
	RunE: runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	return writeConfig(cmd.OutOrStdout(), cfg, configFormat)
}

func writeConfig(w io.Writer, cfg *am.Config, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Fprintln(w, string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to YAML")
		}
		fmt.Fprintf(w, "# cronctl configuration\n%s", string(data))

	case "toml":
		data, err := toml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		fmt.Fprintf(w, "# cronctl configuration\n%s", string(data))

	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	v := am.GetViper()
	if !v.IsSet(key) {
		return errors.Newf("configuration key %q not found", key)
	}

	fmt.Fprintln(cmd.OutOrStdout(), am.Get(key))
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadValidConfig()
	if err != nil {
		return err
	}

	rejected := checkDefinitions(cfg)
	out := cmd.OutOrStdout()
	for _, r := range rejected {
		fmt.Fprintf(out, "✗ %s %q rejected: %s\n", r.Kind, r.Name, r.Reason)
	}
	if len(rejected) > 0 {
		return errors.NewRejectedError("%d extension definition(s) would be dropped", len(rejected))
	}

	fmt.Fprintln(out, "✓ Configuration is valid")
	return nil
}

// checkDefinitions builds the registry the daemon would build from cfg and
// returns what it rejected. No store is touched.
func checkDefinitions(cfg *am.Config) []registry.Rejection {
	engine := reconcile.New(reconcile.Deps{}, cfg.ReconcileConfig(), cfg.Extensions.ReconcileExtensions())
	return engine.Definitions().Rejected()
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	intro, err := am.GetConfigIntrospection()
	if err != nil {
		return errors.Wrap(err, "failed to get config introspection")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration cascade (later overrides earlier):")
	fmt.Fprintln(out, "  1. [DEFAULT]  Built-in defaults")
	fmt.Fprintf(out, "  2. [SYSTEM]   %s\n", am.SystemConfigPath)
	fmt.Fprintln(out, "  3. [USER]     ~/.cronctl/am.toml")
	fmt.Fprintln(out, "  4. [PROJECT]  ./am.toml (searches up directories)")
	fmt.Fprintf(out, "  5. [ENV]      %s_* environment variables\n", am.EnvPrefix)
	fmt.Fprintln(out)

	if len(intro.ConfigFiles) == 0 {
		fmt.Fprintln(out, "No config files found")
	} else {
		fmt.Fprintln(out, "Loaded files:")
		for _, f := range intro.ConfigFiles {
			fmt.Fprintf(out, "  %s\n", f)
		}
	}

	for _, source := range am.SourceOrder {
		var lines []string
		for _, s := range intro.Settings {
			if s.Source != source {
				continue
			}
			value := fmt.Sprintf("%v", s.Value)
			if len(value) > 50 {
				value = value[:47] + "..."
			}
			line := fmt.Sprintf("  %s = %s", s.Key, value)
			if s.SourcePath != "" {
				line += fmt.Sprintf("  (%s)", s.SourcePath)
			}
			lines = append(lines, line)
		}
		if len(lines) == 0 {
			continue
		}
		fmt.Fprintf(out, "\n%s: %d settings\n", source, len(lines))
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
	}

	return nil
}
