package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/icpmesh/meshwatch/cmd/meshwatch/app"
)

func main() {
	app.NewApp().Run()
}
