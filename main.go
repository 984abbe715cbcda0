package main

import "github.com/andresmejia3/skyguard/cmd"

func main() {
	cmd.Execute()
}
