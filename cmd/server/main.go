package main

import "github.com/Togather-Foundation/retriever/cmd/server/cmd"

func main() {
	cmd.Execute()
}
