package main

import (
	"github.com/iotaledger/hive.go/app"

	"github.com/shadowlend/shadowlend/components/prometheus"
	"github.com/shadowlend/shadowlend/components/shadowlend"
)

var (
	// Name of the app.
	Name = "shadowlend"

	// Version of the app.
	Version = "0.1.0"
)

func main() {
	app.New(Name, Version,
		app.WithInitComponent(&app.InitComponent{
			Component: &app.Component{
				Name: "App",
			},
			NonHiddenFlags: []string{
				"config",
				"help",
				"version",
			},
		}),
		app.WithComponents(
			shadowlend.Component,
			prometheus.Component,
		),
	).Run()
}
