package main

import "wednesday-alerts/internal/cli"

func main() {
	cli.Execute()
}
