package main

import (
	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/config"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/server"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/internal/util"
	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"
)

func main() {
	util.LoadEnv()
	config.InitLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", "err", err)
	}

	server.Init(cfg)
}
