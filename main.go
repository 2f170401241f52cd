package main

import (
	"log"

	"github.com/nmi/flatkvm/flag"
)

func main() {
	if err := flag.Parse(); err != nil {
		log.Fatal(err)
	}
}
