package main

import (
	"flag"
	"log"

	"github.com/danmuck/replica/internal/config"
)

func main() {
	kind := flag.String("kind", "server", "config kind: server|client")
	output := flag.String("output", "", "output path for the template (.toml or .yaml)")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to the per-kind path)")
	force := flag.Bool("force", false, "overwrite an existing config file")
	flag.Parse()

	defaultPath := func() string {
		switch *kind {
		case "server":
			return "cmd/replicad/config.toml"
		case "client":
			return "cmd/replica-client/config.toml"
		default:
			log.Fatalf("unknown kind: %s", *kind)
			return ""
		}
	}

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath()
		}
		var err error
		switch *kind {
		case "server":
			_, err = config.LoadServerConfig(path)
		case "client":
			_, err = config.LoadClientConfig(path)
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath()
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
