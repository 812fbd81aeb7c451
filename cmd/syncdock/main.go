package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/mitchellh/mapstructure"
	"github.com/urfave/cli/v2"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/syncdock/syncdock-server/export"
	"github.com/syncdock/syncdock-server/internal/model"
	"github.com/syncdock/syncdock-server/syncer"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	app := &cli.App{
		Name:  "syncdock",
		Usage: "sync SaaS provider data into a warehouse schema or export it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Usage: "forecast, intect or shopify", Required: true},
			&cli.StringFlag{Name: "connection-id", Usage: "connection identifier, generated when empty"},
			&cli.StringFlag{Name: "organization-id", Usage: "owning organization identifier"},
			&cli.StringFlag{Name: "name", Usage: "connection display name", Required: true},
			&cli.StringFlag{Name: "credentials", Usage: "provider credential as a JSON object", Required: true, EnvVars: []string{"SYNCDOCK_CREDENTIALS"}},
		},
		Commands: []*cli.Command{
			{
				Name:  "sync",
				Usage: "fetch provider data and load it into the target schema",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "target-uri", Usage: "target database connection URI", Required: true, EnvVars: []string{"SYNCDOCK_TARGET_URI"}},
				},
				Action: runSync,
			},
			{
				Name:  "export",
				Usage: "fetch provider data and export it to an archive or spreadsheet",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sink", Usage: "archive or sheets", Value: "archive"},
					&cli.StringFlag{Name: "google-token", Usage: "OAuth access token for the sheets sink", EnvVars: []string{"SYNCDOCK_GOOGLE_TOKEN"}},
					&cli.StringSliceFlag{Name: "placeholder-field", Usage: "field exported as a placeholder instead of expanded"},
				},
				Action: runExport,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connectionFromFlags(c *cli.Context) (model.Connection, error) {
	var loose map[string]any
	if err := json.Unmarshal([]byte(c.String("credentials")), &loose); err != nil {
		return model.Connection{}, fmt.Errorf("decoding credentials: %w", err)
	}
	var credential model.Credential
	if err := mapstructure.Decode(loose, &credential); err != nil {
		return model.Connection{}, fmt.Errorf("decoding credentials: %w", err)
	}

	id := c.String("connection-id")
	if id == "" {
		id = uuid.New().String()
	}
	return model.Connection{
		ID:             id,
		OrganizationID: c.String("organization-id"),
		Provider:       model.Provider(c.String("provider")),
		Name:           c.String("name"),
		Credential:     credential,
		TargetURI:      c.String("target-uri"),
	}, nil
}

func runSync(c *cli.Context) error {
	conn, err := connectionFromFlags(c)
	if err != nil {
		return err
	}

	conf := config.Default
	log := logger.NewLogger().Child("syncdock")

	manager := syncer.New(conf, log, stats.Default)
	result, err := manager.Sync(c.Context, conn, progressPrinter())
	if err != nil {
		return err
	}
	for _, outcome := range result.Outcomes {
		if outcome.Err != nil {
			fmt.Printf("%s: %v\n", outcome.TableName, outcome.Err)
			continue
		}
		fmt.Printf("%s: %d records\n", outcome.TableName, outcome.Records)
	}
	return result.Err()
}

func runExport(c *cli.Context) error {
	conn, err := connectionFromFlags(c)
	if err != nil {
		return err
	}

	conf := config.Default
	log := logger.NewLogger().Child("syncdock")
	manager := syncer.New(conf, log, stats.Default)

	switch sink := c.String("sink"); sink {
	case "archive":
		store, err := export.NewArchiveStore(conf, log)
		if err != nil {
			return err
		}
		opts := export.CSVOptions{PlaceholderFields: c.StringSlice("placeholder-field")}
		key, err := manager.ExportArchive(c.Context, conn, store, opts, progressPrinter())
		if err != nil {
			return err
		}
		fmt.Printf("archive: %s\n", key)
		return nil
	case "sheets":
		writer, err := export.NewSheetsWriter(c.Context, c.String("google-token"), conf, log)
		if err != nil {
			return err
		}
		spreadsheetID, err := manager.ExportSheets(c.Context, conn, writer, progressPrinter())
		if err != nil {
			return err
		}
		fmt.Printf("spreadsheet: %s\n", spreadsheetID)
		return nil
	default:
		return fmt.Errorf("unsupported sink: %s", sink)
	}
}

func progressPrinter() model.ProgressFunc {
	return func(percent float64) {
		fmt.Fprintf(os.Stderr, "\rprogress: %5.1f%%", percent)
		if percent >= 100 || percent == 0 {
			fmt.Fprintln(os.Stderr)
		}
	}
}
