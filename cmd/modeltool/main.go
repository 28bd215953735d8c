// Package main is the entry point for the modeltool application
package main

func main() {
	Execute()
}
