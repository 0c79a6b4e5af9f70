package main

import "github.com/oshokin/image-packager/cmd/image-updater/cmd"

func main() {
	cmd.Execute()
}
