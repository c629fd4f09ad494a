package main

import "github.com/G1-H25/jenlib/cli"

func main() {
	cli.Run()
}
