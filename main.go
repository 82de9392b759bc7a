package main

import "github.com/costlens/costlens/cmd"

func main() {
	cmd.Execute()
}
