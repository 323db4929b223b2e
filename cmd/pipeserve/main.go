package main

import "pipeserve/cmd/pipeserve/cmd"

func main() {
	cmd.Execute()
}
