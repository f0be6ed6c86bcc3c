package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/wlanfw/wlanfw-go/pkg/log"
)

// RunFilter copies the events of path matching flags to output and returns
// how many were written.
func RunFilter(path, output string, flags FilterFlags) (int, error) {
	filter, err := flags.Build()
	if err != nil {
		return 0, err
	}

	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	logger, err := log.NewFileLogger(output)
	if err != nil {
		return 0, fmt.Errorf("failed to create output logger: %w", err)
	}

	count := 0
	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = logger.Close()
			return count, fmt.Errorf("failed to read event: %w", err)
		}
		logger.Log(event)
		count++
	}

	if err := logger.Close(); err != nil {
		return count, fmt.Errorf("failed to write %s: %w", output, err)
	}
	return count, nil
}
