package main

import (
	"medichat/cmd/server"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := server.Run(); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
