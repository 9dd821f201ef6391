package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/urfave/cli/v2"

	"github.com/dmitrijs2005/camwatch/internal/client/api"
)

func main() {
	app := &cli.App{
		Name:  "camctl",
		Usage: "camwatch control tool: start and watch uploads and triggers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "camwatch server base URL",
				Value:   "http://localhost:8080",
				EnvVars: []string{"CAMWATCH_SERVER"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "upload",
				Usage: "Upload a file and watch its progress",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "path",
						Usage:    "Source file path (as seen by the server)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "Target object name",
					},
					&cli.StringFlag{
						Name:  "mime",
						Usage: "MIME type",
					},
					&cli.StringFlag{
						Name:  "folder",
						Usage: "Destination folder id",
					},
					&cli.BoolFlag{
						Name:  "no-watch",
						Usage: "Return immediately without watching progress",
					},
				},
				Action: uploadAction,
			},
			{
				Name:   "uploads",
				Usage:  "List upload jobs",
				Action: listUploadsAction,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel an upload job",
				ArgsUsage: "<job-id>",
				Action:    cancelAction,
			},
			{
				Name:  "trigger",
				Usage: "Start a record-upload-notify workflow and watch it",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "destination",
						Usage:    "Notification destination (phone number)",
						Required: true,
					},
					&cli.Float64Flag{
						Name:     "duration",
						Usage:    "Recording duration in seconds",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "filename",
						Usage: "Recording output filename",
					},
					&cli.StringFlag{
						Name:  "message",
						Usage: "Custom notification message prefix",
					},
					&cli.BoolFlag{
						Name:  "early",
						Usage: "Send an early notification once the upload passes the threshold",
					},
					&cli.BoolFlag{
						Name:  "no-watch",
						Usage: "Return immediately without watching the workflow",
					},
				},
				Action: triggerAction,
			},
			{
				Name:   "triggers",
				Usage:  "List trigger workflows",
				Action: listTriggersAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func uploadAction(c *cli.Context) error {
	client := api.NewClient(c.String("server"))

	job, err := client.StartUpload(c.Context, api.StartUploadRequest{
		Path:     c.String("path"),
		Name:     c.String("name"),
		MimeType: c.String("mime"),
		FolderID: c.String("folder"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("upload started: %s\n", job.ID)

	if c.Bool("no-watch") {
		return nil
	}
	return watchUpload(c.Context, client, job)
}

func watchUpload(ctx context.Context, client *api.Client, job api.Upload) error {
	bar := pb.New64(job.BytesTotal)
	bar.Set(pb.Bytes, true)
	bar.SetTemplate(`{{string . "name"}} {{counters . }} {{bar . }} {{percent . }} {{speed . }}`)
	bar.Set("name", job.Name)
	bar.Start()

	for !job.Terminal() {
		select {
		case <-ctx.Done():
			bar.Finish()
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}

		var err error
		job, err = client.GetUpload(ctx, job.ID)
		if err != nil {
			bar.Finish()
			return err
		}
		bar.SetCurrent(job.BytesTransferred)
	}
	bar.SetCurrent(job.BytesTransferred)
	bar.Finish()

	switch job.State {
	case "completed":
		fmt.Printf("completed: %s\n", job.ViewLink)
		if job.DirectDownloadLink != "" {
			fmt.Printf("direct download: %s\n", job.DirectDownloadLink)
		}
	case "failed":
		return fmt.Errorf("upload failed: %s", job.Error)
	case "canceled":
		fmt.Println("upload canceled")
	}
	return nil
}

func listUploadsAction(c *cli.Context) error {
	client := api.NewClient(c.String("server"))
	jobs, err := client.ListUploads(c.Context)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		fmt.Printf("%s  %-10s %3d%%  %s\n", job.ID, job.State, job.Percent, job.Name)
	}
	return nil
}

func cancelAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected exactly one job id")
	}
	client := api.NewClient(c.String("server"))
	canceled, err := client.CancelUpload(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	if !canceled {
		fmt.Println("job not canceled (unknown or already finished)")
		return nil
	}
	fmt.Println("canceled")
	return nil
}

func triggerAction(c *cli.Context) error {
	client := api.NewClient(c.String("server"))

	trig, err := client.StartTrigger(c.Context, api.StartTriggerRequest{
		Destination:       c.String("destination"),
		DurationSeconds:   c.Float64("duration"),
		Filename:          c.String("filename"),
		Message:           c.String("message"),
		EarlyNotification: c.Bool("early"),
	})
	if err != nil {
		return err
	}
	fmt.Printf("trigger started: %s\n", trig.ID)

	if c.Bool("no-watch") {
		return nil
	}

	lastStage := ""
	for !trig.Terminal() {
		select {
		case <-c.Context.Done():
			return c.Context.Err()
		case <-time.After(time.Second):
		}

		trig, err = client.GetTrigger(c.Context, trig.ID)
		if err != nil {
			return err
		}
		if trig.Stage != lastStage {
			fmt.Printf("stage: %s\n", trig.Stage)
			lastStage = trig.Stage
		}

		if trig.Stage == "uploading" && trig.UploadID != "" {
			job, err := client.GetTriggerUpload(c.Context, trig.ID)
			if err == nil {
				fmt.Printf("upload: %3d%% (%d/%d bytes)\n", job.Percent, job.BytesTransferred, job.BytesTotal)
			}
		}
	}

	if trig.Stage == "failed" {
		return fmt.Errorf("trigger failed: %s", trig.Error)
	}
	if trig.NotifyError != "" {
		fmt.Printf("completed, but notification failed: %s\n", trig.NotifyError)
		return nil
	}
	fmt.Println("completed")
	return nil
}

func listTriggersAction(c *cli.Context) error {
	client := api.NewClient(c.String("server"))
	triggers, err := client.ListTriggers(c.Context)
	if err != nil {
		return err
	}
	for _, trig := range triggers {
		fmt.Printf("%s  %-12s %s -> %s\n", trig.ID, trig.Stage, trig.Filename, trig.Destination)
	}
	return nil
}
