package main

import (
	"flag"
	"log"
	"path/filepath"
	"strings"

	"github.com/danmuck/ewbridge/internal/config"
)

func main() {
	format := flag.String("format", "toml", "config format: toml|yaml")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to ewbridge.<format>)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*format)
		}
		cfg, err := config.Load(path)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", cfg.Topology, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*format)
	} else if ext := strings.TrimPrefix(filepath.Ext(target), "."); ext != "" {
		*format = ext
	}

	if err := config.WriteTemplate(target, *format, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *format, target)
}

func defaultPath(format string) string {
	if strings.EqualFold(format, "yaml") || strings.EqualFold(format, "yml") {
		return filepath.Join("cmd", "ewbridge", "ewbridge.yaml")
	}
	return filepath.Join("cmd", "ewbridge", "ewbridge.toml")
}
