// Package main is the entry point for the Aleph marketplace server.
package main

import "marketplace.aleph.sh/cli"

func main() {
	cli.Execute()
}
