package main

import "github.com/object0/foldersync/internal/cli"

func main() {
	cli.Execute()
}
