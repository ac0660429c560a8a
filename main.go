package main

import (
	"context"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"communestat/database"
	"communestat/download"
	"communestat/pipeline"
	"communestat/report"
	"communestat/server"
	"communestat/settings"
)

func main() {
	if err := settings.InitializeConfig(); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	config := settings.GetConfig()

	if len(os.Args) < 2 {
		log.Fatalf("Usage: communestat <download|load|pipeline|report|serve>")
	}

	command := os.Args[1]
	if command == "download" {
		downloadData(config)
	} else if command == "load" {
		loadData(config)
	} else if command == "pipeline" {
		runPipeline(config, len(os.Args) > 2 && os.Args[2] == "reset")
	} else if command == "report" {
		writeReport(config)
	} else if command == "serve" {
		server.Start(config)
	} else {
		log.Fatalf("Unknown command")
	}
}

func downloadData(config settings.Config) {
	ctx := context.Background()

	for _, dataset := range download.Datasets(config.Download) {
		archivePath := filepath.Join(config.Download.Folder, dataset.Archive)

		log.Infof("Fetching dataset %s", dataset.Name)
		if err := download.Fetch(ctx, dataset.URL, archivePath, config.Download.BandwidthKBps); err != nil {
			log.Fatalf("Failed to fetch %s: %v", dataset.Name, err)
		}

		extracted, err := download.Extract(archivePath, filepath.Join(config.Download.Folder, "input"), dataset.Pattern)
		if err != nil {
			log.Fatalf("Failed to extract %s: %v", dataset.Name, err)
		}
		log.Infof("Extracted %d files from %s", len(extracted), dataset.Archive)
	}
}

func loadData(config settings.Config) {
	pool, err := database.GetDBPool("communestat", config.Database)
	if err != nil {
		log.Fatalf("Failed to get database pool: %v", err)
	}
	defer database.CloseDBPools()

	folder := filepath.Join(config.Download.Folder, "input")
	if err := database.Load(context.Background(), pool, folder, config.Pipeline.SRID); err != nil {
		log.Fatalf("Failed to load data: %v", err)
	}
}

func runPipeline(config settings.Config, reset bool) {
	ctx := context.Background()

	store, err := database.NewStore(config.Database)
	if err != nil {
		log.Fatalf("Failed to get database store: %v", err)
	}
	defer database.CloseDBPools()

	if reset {
		for _, relation := range pipeline.DerivedRelations() {
			if err := store.DropRelation(ctx, "TABLE", relation); err != nil {
				log.Fatalf("Failed to drop %s: %v", relation, err)
			}
		}
	}

	steps := pipeline.CommuneSteps(config.Pipeline.Departement, config.Pipeline.SRID, config.Pipeline.BufferDistance)
	if err := pipeline.CheckOrder(steps, pipeline.BaseRelations()); err != nil {
		log.Fatalf("Invalid pipeline: %v", err)
	}

	if err := pipeline.Run(ctx, store, steps); err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}

	log.Infof("Pipeline done, %d relations created", len(pipeline.DerivedRelations()))
}

func writeReport(config settings.Config) {
	ctx := context.Background()

	store, err := database.NewStore(config.Database)
	if err != nil {
		log.Fatalf("Failed to get database store: %v", err)
	}
	defer database.CloseDBPools()

	spec := report.CommuneReport(config.Pipeline.Departement)
	rows, err := report.Assemble(ctx, store, spec)
	if err != nil {
		log.Fatalf("Failed to assemble report: %v", err)
	}

	if err := report.WriteCSV(os.Stdout, spec, rows); err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}
}
