// ABOUTME: Entry point for the soundboard
// ABOUTME: Hands control to the cobra command tree
package main

import "github.com/Resonate-Protocol/soundboard-go/internal/cli"

func main() {
	cli.Execute()
}
