package main

import "github.com/oshokin/image-packager/cmd/image-packager/cmd"

func main() {
	cmd.Execute()
}
