package main

import "github.com/corkboard/server/cmd/server/cmd"

func main() {
	cmd.Execute()
}
