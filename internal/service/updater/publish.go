package updater

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/image-packager/internal/logger"
)

// PublishOptions contains inputs for manifest generation.
type PublishOptions struct {
	// UpdateFolder is where the operator should upload the artifacts;
	// only used for the printed guidance.
	UpdateFolder string
}

// Publish computes checksums for the toolchain artifacts in the working
// directory and writes the version manifest consumed by Run.
func Publish(ctx context.Context, opts *PublishOptions) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "image-updater")

	if IsUpdaterRunningNow(ctx) {
		return errUpdaterAlreadyRunning
	}

	desc := NewDescription()

	logger.Info(ctx, "Preparing update description")

	for _, fileName := range ToolchainFiles() {
		if _, err := os.Stat(fileName); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", fileName, os.ErrNotExist)
		} else if err != nil {
			return fmt.Errorf("stat %s: %w", fileName, err)
		}

		checksum, err := GetFileChecksum(fileName)
		if err != nil {
			return err
		}

		desc.Files[fileName] = base64.StdEncoding.EncodeToString(checksum)
	}

	logger.InfoKV(ctx, "Saving update description", "path", VersionFilename)

	contents, err := yaml.Marshal(desc)
	if err != nil {
		return err
	}

	if err := os.WriteFile(VersionFilename, contents, DefaultFileMode); err != nil {
		return err
	}

	printNextSteps(ctx, desc, opts.UpdateFolder)

	return nil
}

// printNextSteps logs human-readable guidance for the created files.
func printNextSteps(ctx context.Context, desc *Description, updateFolder string) {
	files := make([]string, 0, len(desc.Files)+1)
	for fileName := range desc.Files {
		files = append(files, fileName)
	}

	files = append(files, VersionFilename)
	sort.Strings(files)

	var builder strings.Builder

	builder.WriteString("You should upload the following files to the folder ")
	builder.WriteString(updateFolder)
	builder.WriteString(":\n")
	builder.WriteString(strings.Join(files, ",\n"))

	logger.Info(ctx, builder.String())
}
