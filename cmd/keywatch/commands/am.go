package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/keywatch/am"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Show and edit keywatch configuration",
	Long: `am - Show and edit keywatch configuration ("I am")

Configuration sources (later overrides earlier):
1. Built-in defaults
2. System config (/etc/keywatch/am.toml)
3. User config (~/.keywatch/am.toml)
4. Project config (./am.toml, searched up from the working directory)
5. Environment variables (KEYWATCH_* prefix)

Examples:
  keywatch am show                       # Show current configuration
  keywatch am show --format json
  keywatch am get pulse.max_attempts
  keywatch am set reddit.limit 50        # Writes ./am.toml
  keywatch am set --user redis.addr localhost:6379
  keywatch am where                      # Which source set each value`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmGet,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write a value to the project (or user) config file",
	Long: `Write key = value into ./am.toml, or ~/.keywatch/am.toml with --user.
The previous file is kept as .back1 (up to three backups).`,
	Args: cobra.ExactArgs(2),
	RunE: runAmSet,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show which source set each configuration value",
	RunE:  runAmWhere,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var (
	configFormat string
	amSetUser    bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amSetCmd.Flags().BoolVar(&amSetUser, "user", false, "Write the user config instead of ./am.toml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amGetCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amValidateCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Every format goes through the masked TOML rendering so secrets never print
	data, err := cfg.MarshalTOML()
	if err != nil {
		return err
	}

	switch configFormat {
	case "toml":
		fmt.Printf("# keywatch configuration\n%s", string(data))
	case "json", "yaml":
		masked, err := unmarshalMasked(data)
		if err != nil {
			return err
		}
		if configFormat == "json" {
			out, err := json.MarshalIndent(masked, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal config to JSON: %w", err)
			}
			fmt.Println(string(out))
			return nil
		}
		out, err := yaml.Marshal(masked)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# keywatch configuration\n%s", string(out))
	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}

func runAmGet(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	v := am.GetViper()
	if !v.IsSet(args[0]) {
		return fmt.Errorf("configuration key %q not found", args[0])
	}
	// Values come from introspection so secrets stay masked
	settings, err := am.Introspect()
	if err != nil {
		return err
	}
	prefix := args[0] + "."
	for _, s := range settings {
		switch {
		case s.Key == args[0]:
			fmt.Println(s.Value)
			return nil
		case strings.HasPrefix(s.Key, prefix):
			fmt.Printf("%s = %v\n", strings.TrimPrefix(s.Key, prefix), s.Value)
		}
	}
	return nil
}

func runAmSet(cmd *cobra.Command, args []string) error {
	path := "am.toml"
	if amSetUser {
		path = am.UserConfigPath()
		if path == "" {
			return fmt.Errorf("cannot resolve the home directory for the user config")
		}
	}
	if err := am.SetValue(path, args[0], args[1]); err != nil {
		return err
	}
	if _, err := am.Load(); err != nil {
		return fmt.Errorf("%s written, but the configuration is now invalid: %w", path, err)
	}
	pterm.Printf("%s %s = %s %s\n", pterm.LightGreen("✓"), args[0], args[1], pterm.Gray("("+path+")"))
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	settings, err := am.Introspect()
	if err != nil {
		return err
	}
	rows := [][]string{{"KEY", "VALUE", "SOURCE", "FROM"}}
	for _, s := range settings {
		rows = append(rows, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	fmt.Println("✓ Configuration is valid")
	return nil
}

// unmarshalMasked turns the masked TOML rendering into a generic document
// for the other output formats
func unmarshalMasked(data []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to re-read rendered config: %w", err)
	}
	return doc, nil
}
