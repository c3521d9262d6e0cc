package main

import "github.com/danielpatrickdp/butterfly/go-controller/internal/cli"

func main() {
	cli.Execute()
}
