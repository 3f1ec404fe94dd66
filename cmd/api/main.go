package main

import (
	"flag"
	"log"
	"os"

	"symphonybacktest/cmd"
)

func main() {
	configPath := flag.String("config", os.Getenv("SYMPHONY_CONFIG"), "path to config yaml")
	flag.Parse()

	deps, err := cmd.InitializeDependencies(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	defer cmd.CloseDependencies(deps)

	err = deps.ApiHandler.StartApi(deps.Config.Api.Port)
	if err != nil {
		log.Fatal(err)
	}
}
