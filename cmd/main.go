package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"osrd.dev/macro"
	"osrd.dev/macro/config"
	"osrd.dev/macro/model"
	"osrd.dev/macro/search"
	"osrd.dev/macro/storage"
	"osrd.dev/macro/timetable"
)

var rootCmd = &cobra.Command{
	Use:          "macro",
	Short:        "Macro timetable-graph tool",
	Long:         "Converts between train schedules and the Netzgrafik timetable-graph document",
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config")
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
}

func loadConfig() (*config.Config, *config.Loader, error) {
	if configPath == "" {
		return config.Default(), nil, nil
	}
	loader, err := config.NewLoader(configPath)
	if err != nil {
		return nil, nil, err
	}
	return loader.Config(), loader, nil
}

// newSession wires a Session from the config: schedules from a JSON
// file, operational points from the CSV registry, nodes from the
// selected storage backend, schedules kept in memory.
func newSession(cfg *config.Config, schedulesPath, registryPath string) (*macro.Session, error) {
	data, err := os.ReadFile(schedulesPath)
	if err != nil {
		return nil, fmt.Errorf("reading schedules: %w", err)
	}
	var schedules []model.TrainSchedule
	if err := json.Unmarshal(data, &schedules); err != nil {
		return nil, fmt.Errorf("parsing schedules: %w", err)
	}

	scenario := model.ScenarioRef{
		ProjectID:   cfg.Scenario.ProjectID,
		StudyID:     cfg.Scenario.StudyID,
		ScenarioID:  cfg.Scenario.ScenarioID,
		InfraID:     cfg.Scenario.InfraID,
		TimetableID: cfg.Scenario.TimetableID,
	}

	var searcher macro.Searcher
	if registryPath != "" {
		registry, err := search.NewCSVRegistry(registryPath)
		if err != nil {
			return nil, err
		}
		searcher = registry
	} else {
		searcher = search.NewMemory()
	}

	var nodes macro.NodeService
	switch cfg.Storage.Backend {
	case "sqlite":
		nodes, err = storage.NewSQLiteStorage(scenario, storage.SQLiteConfig{
			OnDisk:    cfg.Storage.Directory != "",
			Directory: cfg.Storage.Directory,
		})
		if err != nil {
			return nil, err
		}
	case "postgres":
		nodes, err = storage.NewPSQLStorage(scenario, cfg.Storage.ConnStr, false)
		if err != nil {
			return nil, err
		}
	default:
		nodes = storage.NewMemoryStorage(scenario)
	}

	session := macro.NewSession(scenario, schedules, searcher, nodes, timetable.NewMemory(schedules...))
	session.PageSize = cfg.Paging.PageSize
	session.CanvasWidth = cfg.Layout.CanvasWidth
	session.CanvasHeight = cfg.Layout.CanvasHeight
	session.Padding = cfg.Layout.Padding
	session.GridColumns = cfg.Layout.GridColumns
	session.GridSpacing = cfg.Layout.GridSpacing
	return session, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
