package main

import "github.com/ossguard/scanguard/cmd"

func main() {
	cmd.Execute()
}
