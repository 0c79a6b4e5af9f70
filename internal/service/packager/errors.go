package packager

import "errors"

var (
	// ErrPackaging indicates the build-context archive could not be produced.
	ErrPackaging = errors.New("packaging failed")
	// ErrBuild indicates the docker image build failed.
	ErrBuild = errors.New("image build failed")
	// ErrCleanup indicates the intermediate archive could not be removed.
	ErrCleanup = errors.New("cleanup failed")
)
