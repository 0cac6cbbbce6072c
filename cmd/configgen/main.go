package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/danmuck/candlewire/internal/config"
	"github.com/danmuck/candlewire/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "configgen: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flagSet := pflag.NewFlagSet("configgen", pflag.ContinueOnError)
	kind := flagSet.StringP("kind", "k", config.KindRuntime, "config kind: runtime|client")
	output := flagSet.StringP("output", "o", "", "output path for config template")
	validate := flagSet.Bool("validate", false, "validate an existing config file")
	input := flagSet.StringP("input", "i", "", "config path for validation (defaults to per-kind cmd path)")
	force := flagSet.BoolP("force", "f", false, "overwrite existing config file")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	observability.InitLogger("configgen")

	if *validate {
		path := *input
		if path == "" {
			var err error
			if path, err = defaultPath(*kind); err != nil {
				return err
			}
		}
		if err := config.Validate(path, *kind); err != nil {
			return err
		}
		switch *kind {
		case config.KindClient:
			if _, err := config.LoadClient(path); err != nil {
				return err
			}
		case config.KindRuntime:
			if _, err := config.LoadRuntime(path); err != nil {
				return err
			}
		}
		log.Info().Msgf("validated %s config at %s", *kind, path)
		return nil
	}

	target := *output
	if target == "" {
		var err error
		if target, err = defaultPath(*kind); err != nil {
			return err
		}
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		return err
	}
	log.Info().Msgf("wrote %s config template to %s", *kind, target)
	return nil
}

func defaultPath(kind string) (string, error) {
	switch kind {
	case config.KindClient:
		return "cmd/vizclient/config.toml", nil
	case config.KindRuntime:
		return "cmd/vizruntime/config.toml", nil
	default:
		return "", fmt.Errorf("unknown kind: %s", kind)
	}
}
