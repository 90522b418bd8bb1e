package main

import (
	"flag"
	"strings"

	"go.uber.org/fx"

	"github.com/snapcart/capture-api/internal/app"
)

var defaultBin string

func selectedModules(binValue string) []fx.Option {
	selected := strings.TrimSpace(strings.ToLower(binValue))

	switch selected {
	case "auth":
		return []fx.Option{
			app.AuthModule(),
		}
	case "checkout":
		return []fx.Option{
			app.AuthModule(),
			app.CheckoutModule(),
		}
	default:
		return []fx.Option{
			app.AuthModule(),
			app.CheckoutModule(),
		}
	}
}

func main() {
	bin := flag.String("bin", defaultBin, "select module binary: auth|checkout (default: all)")
	flag.Parse()

	app.New(*bin, selectedModules(*bin)...).Run()
}
