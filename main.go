package main

import "github.com/example/facefinder/cmd"

func main() {
	cmd.Execute()
}
