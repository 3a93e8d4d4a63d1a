package main

import "github.com/devicelab-dev/uirunner/pkg/cli"

func main() {
	cli.Execute()
}
