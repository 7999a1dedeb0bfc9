package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/squawktown/squawk/pkg/config"
	"github.com/squawktown/squawk/pkg/towngen"
	"github.com/spf13/cobra"
)

var (
	configPath string
	seedHint   string
	format     string
	outputPath string
)

var rootCmd = &cobra.Command{
	Use:   "worldgen",
	Short: "generate a squawk town and print it as json or toml",
	RunE:  runGenerate,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "server config to take [world] settings from (defaults when empty)")
	rootCmd.Flags().StringVarP(&seedHint, "seed", "s", "", "seed hint, overrides the config seed")
	rootCmd.Flags().StringVarP(&format, "format", "f", "json", "output format (json, toml)")
	rootCmd.Flags().StringVarP(&outputPath, "out", "o", "", "output file (stdout when empty)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if seedHint != "" {
		cfg.World.Seed = seedHint
	}

	seed, generator := towngen.ResolveSeed(cfg.World.Seed)
	world, err := towngen.Generate(seed, cfg.WorldParams())
	if err != nil {
		return fmt.Errorf("failed to generate world: %w", err)
	}

	var out io.Writer = os.Stdout
	if outputPath != "" {
		file, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		out = file
	}

	if err := writeWorld(out, world); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "%s: %d buildings, %d roads, %d npcs, %d cars\n",
		generator, len(world.Buildings), len(world.Roads), len(world.NPCs), len(world.Cars))
	return nil
}

func writeWorld(w io.Writer, world *towngen.World) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(world)
	case "toml":
		encoder := toml.NewEncoder(w)
		encoder.Indent = ""
		return encoder.Encode(world)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}
