package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"fieldsync/internal/ipc"
)

func newCaptureCommand(ctx *commandContext) *cobra.Command {
	captureCmd := &cobra.Command{
		Use:   "capture",
		Short: "Store a submission in the offline queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	captureCmd.AddCommand(newCaptureFormCommand(ctx))
	captureCmd.AddCommand(newCapturePhotoCommand(ctx))
	return captureCmd
}

func newCaptureFormCommand(ctx *commandContext) *cobra.Command {
	var destination string
	var bodyFile string
	cmd := &cobra.Command{
		Use:   "form",
		Short: "Queue a JSON form submission",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := readBody(bodyFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if !json.Valid(body) {
				return fmt.Errorf("form body is not valid JSON")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Capture(ipc.CaptureRequest{
					Kind:        "form",
					Destination: destination,
					ContentType: "application/json",
					Body:        body,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s\n", resp.Item.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&destination, "destination", "", "API path the submission replays to")
	cmd.Flags().StringVar(&bodyFile, "body", "", "JSON body file (reads stdin when omitted)")
	_ = cmd.MarkFlagRequired("destination")
	return cmd
}

func newCapturePhotoCommand(ctx *commandContext) *cobra.Command {
	var destination, caption, location, inspectionID string
	cmd := &cobra.Command{
		Use:   "photo <file>",
		Short: "Queue a photo upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read photo: %w", err)
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if destination == "" {
				destination = cfg.API.PhotoUploadPath
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Capture(ipc.CaptureRequest{
					Kind:         "photo",
					Destination:  destination,
					ContentType:  contentTypeForPhoto(args[0]),
					Caption:      caption,
					Location:     location,
					InspectionID: inspectionID,
					Data:         data,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (%d bytes)\n", resp.Item.ID, resp.Item.PhotoBytes)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&destination, "destination", "", "Upload path (defaults to the configured photo path)")
	cmd.Flags().StringVar(&caption, "caption", "", "Photo caption")
	cmd.Flags().StringVar(&location, "location", "", "Photo location")
	cmd.Flags().StringVar(&inspectionID, "inspection", "", "Inspection the photo belongs to")
	return cmd
}

func readBody(path string, stdin io.Reader) ([]byte, error) {
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read body file: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read body from stdin: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("form body is required (use --body or pipe JSON on stdin)")
	}
	return data, nil
}

func contentTypeForPhoto(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
