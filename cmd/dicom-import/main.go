package main

import (
	"os"

	"github.com/synaptica-ai/dicom-catalog/pkg/common/logger"
)

func main() {
	logger.Init()
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
