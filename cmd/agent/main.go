package main

import (
	"go.uber.org/fx"

	"github.com/tablewire/tablewire/internal/app"
)

func main() {
	fx.New(app.Module).Run()
}
