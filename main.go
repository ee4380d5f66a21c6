package main

import "github.com/timjbruce/image-service/cmd"

func main() {
	cmd.Execute()
}
