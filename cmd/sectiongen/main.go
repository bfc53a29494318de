// Command sectiongen splits a structured document into leaf-level sections
// and generates one artifact per section with a remote language model.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgallion1/sectiongen/internal/config"
	"github.com/dgallion1/sectiongen/internal/parser"
)

// version is set at build time via ldflags.
var version = "dev"

// logger is built in PersistentPreRunE from the logging flags.
var logger = slog.Default()

var rootCmd = &cobra.Command{
	Use:   "sectiongen",
	Short: "Generate one artifact per document section",
	Long: `sectiongen splits a heading-tagged document (docx, markdown, html or
numbered plain text) into leaf-level sections, then asks a language model to
produce an SVG diagram or a text write-up for each one. Results are written
per section as they complete, so an interrupted run resumes where it stopped.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Credentials usually live in .env; the process environment wins.
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		format, _ := cmd.Flags().GetString("log-format")
		verbose, _ := cmd.Flags().GetBool("verbose")
		l, err := newLogger(os.Stderr, format, verbose)
		if err != nil {
			return err
		}
		logger = l
		if used := viper.ConfigFileUsed(); used != "" {
			logger.Debug("using config file", "path", used)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./sectiongen.yaml or ~/.config/sectiongen/config.yaml)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format: json or text")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
}

func initConfig() {
	v := viper.GetViper()
	config.Defaults(v)

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("sectiongen")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "sectiongen"))
		}
	}
	config.BindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
	}
}

// loadConfig applies the command's changed flags over the config file and
// environment, then decodes. overrides maps flag names to config keys.
func loadConfig(cmd *cobra.Command, overrides map[string]string) (config.Config, error) {
	v := viper.GetViper()
	for flag, key := range overrides {
		f := cmd.Flags().Lookup(flag)
		if f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}
	return config.Load(v)
}

func newLogger(w io.Writer, format string, verbose bool) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	switch strings.ToLower(format) {
	case "json", "":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// checkDocument rejects a document the splitter has no reader for, or one
// that does not exist, before any output is created.
func checkDocument(path string) error {
	if !parser.IsSupportedExtension(path) {
		return fmt.Errorf("unsupported document %s: expected one of %s",
			path, strings.Join(slices.Sorted(maps.Keys(parser.SupportedExtensions)), ", "))
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("document: %w", err)
	}
	return nil
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	os.Exit(1)
}
