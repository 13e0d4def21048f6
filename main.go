package main

import "github.com/shouni/go-web-crawl/cmd"

func main() {
	cmd.Execute()
}
