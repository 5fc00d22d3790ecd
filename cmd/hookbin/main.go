package main

import (
	"os"

	"github.com/samirkhoja/hookbin/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
