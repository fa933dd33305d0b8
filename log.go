package filelock

import (
	"log"
	"os"
)

// Logger receives the one-shot "falling back to soft lock" notice.
// Embedding binaries may redirect or silence it.
var Logger = log.New(os.Stderr, "filelock: ", 0)
