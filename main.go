package main

import "github.com/kozaktomas/presence/cmd"

func main() {
	cmd.Execute()
}
