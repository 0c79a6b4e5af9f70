package main

import "github.com/oshokin/image-packager/cmd/image-pipeline/cmd"

func main() {
	cmd.Execute()
}
