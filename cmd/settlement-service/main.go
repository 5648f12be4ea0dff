package main

import (
	"log"

	"vendora/settlement-service/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatalf("settlement service failed: %v", err)
	}
}
