package main

import (
	"log"

	"github.com/interpretive-systems/branchview/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Fatal(err)
	}
}
