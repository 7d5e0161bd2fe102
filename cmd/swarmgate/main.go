package main

import "github.com/ppiankov/swarmgate/internal/cli"

func main() {
	cli.Execute()
}
