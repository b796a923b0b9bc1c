package main

import "siteqa/internal/cli"

func main() {
	cli.Execute()
}
