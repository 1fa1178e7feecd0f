package main

import "go-pixiv-download/cmd/pixiv-downloader/cmd"

func main() {
	cmd.Execute()
}
