package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/andperez123/capnet/directoryservice"
)

func main() {
	if err := directoryservice.Run(); err != nil {
		log.Error().Err(err).Msg("capnet-api exited with error")
		os.Exit(1)
	}
}
