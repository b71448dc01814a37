package main

import (
	"os"

	"lmdash/internal/app"
)

// @title          lmdash API
// @version        1.0
// @description    Side-by-side chat with every model served by a local inference server.
// @host           localhost:8000
// @BasePath       /api
func main() {
	os.Exit(app.Run())
}
