package main

import "github.com/goyais/worker/cmd"

func main() {
	cmd.Execute()
}
