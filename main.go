// The main package for the paperfetch executable.
package main

import "github.com/JakeFAU/paperfetch/cmd"

func main() {
	cmd.Execute()
}
