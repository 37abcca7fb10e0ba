package main

import "cortex/cmd"

func main() {
	cmd.Execute()
}
