// The main package for the feedcrawler executable.
package main

import (
	"github.com/JakeFAU/realtime-feed-crawler/cmd"
)

func main() {
	cmd.Execute()
}
