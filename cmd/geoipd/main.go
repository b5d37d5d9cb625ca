package main

import (
	"os"

	"geoipd/internal/app"
)

func main() {
	os.Exit(app.Execute())
}
