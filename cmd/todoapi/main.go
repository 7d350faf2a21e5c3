package main

import "github.com/jmcleod/todoapi/cmd/todoapi/cmd"

func main() {
	cmd.Execute()
}
