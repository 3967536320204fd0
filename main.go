package main

import "github.com/fize-ai/soloqueue/cmd"

func main() {
	cmd.Execute()
}
