package main

import "mailthread/internal/cli"

func main() {
	cli.Execute()
}
