// Package builder drives the external docker CLI: image builds and
// one-shot container runs. Docker stays an external collaborator, with no
// client SDK and no daemon management, matching the shape of the original
// script. Output from docker is streamed line by line into the logger.
package builder
