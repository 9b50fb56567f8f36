package main

import "github.com/nextlevelbuilder/foundrybridge/cmd"

func main() {
	cmd.Execute()
}
