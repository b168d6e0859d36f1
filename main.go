package main

import "github.com/nextlevelbuilder/warelay/cmd"

func main() {
	cmd.Execute()
}
