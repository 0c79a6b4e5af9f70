// Package config defines the settings shared by the image-packager binaries
// and provides helpers to load, validate and save them in YAML format.
//
// The zero configuration file is optional: every field defaults to the
// literal value of the original packaging script.
package config
