package main

import "github.com/plotchat/plotchat/cmd"

func main() {
	cmd.Execute()
}
