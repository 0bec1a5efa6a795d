package main

import (
	"log"

	"ticket-gate/cmd"
	_ "ticket-gate/migrations"
)

func main() {
	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
}
