package main

import "neurogallery/internal/app"

func main() {
	app.Run()
}
