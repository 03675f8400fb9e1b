package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"keva"
)

var configPath = flag.String("config", "", "path to a .toml config file")

func main() {
	flag.Parse()

	cfg := keva.DefaultConfig()
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			log.Fatalln("could not read config file:", err.Error())
		}
		cfg, err = keva.LoadConfig(data)
		if err != nil {
			log.Fatalln("could not parse config file:", err.Error())
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	sv, err := keva.NewServer(ctx, cfg)
	if err != nil {
		log.Fatalln("could not start server:", err.Error())
	}

	log.Printf("listening on %s:%d", cfg.Address, sv.Port())
	if err := sv.Serve(); err != nil {
		log.Fatalln("server terminated, err:", err.Error())
	}
}
