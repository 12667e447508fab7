package main

import "github.com/qaforge/qasandbox/cmd"

func main() {
	cmd.Execute()
}
