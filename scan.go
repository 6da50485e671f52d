package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/skincheck/internal/auth"
	"github.com/example/skincheck/internal/imaging"
	"github.com/example/skincheck/internal/usecase"
)

var errMissingSecret = errors.New("auth.jwt_secret is required")

type scanOptions struct {
	camera   bool
	spotID   string
	location string
	token    string
}

func newScanCommand(root *rootOptions) *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan [image-path]",
		Short: "Submit one image for screening",
		Long: `Acquires an image from a file or the configured camera command, sends it to the
classifier and records the result for the signed-in user.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runScan(cmd, root, opts, path)
		},
	}

	cmd.Flags().BoolVar(&opts.camera, "camera", false, "capture a photo with the configured camera command")
	cmd.Flags().StringVar(&opts.spotID, "spot", "", "existing spot id to attach the scan to")
	cmd.Flags().StringVar(&opts.location, "location", "", "body location for a new spot")
	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token identifying the user")

	return cmd
}

func runScan(cmd *cobra.Command, root *rootOptions, opts *scanOptions, path string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger := root.cfg, root.logger

	session := auth.NewSession()
	if opts.token != "" {
		if cfg.Auth.JWTSecret == "" {
			return errMissingSecret
		}
		user, err := auth.ParseToken(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience, opts.token)
		if err != nil {
			return fmt.Errorf("sign in: %w", err)
		}
		session.SignIn(user)
	}
	if _, ok := session.WaitForUser(ctx, auth.DefaultWaitTimeout); !ok {
		return auth.ErrUnauthenticated
	}

	a, err := buildApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	var image *imaging.Handle
	if opts.camera {
		image, err = imaging.NewCameraSource(cfg.Image.CameraCommand, a.normalizer, cfg.Auth.SettingsURL, logger).Acquire(ctx)
	} else {
		image, err = imaging.NewGallerySource(a.normalizer, cfg.Auth.SettingsURL, logger).Acquire(ctx, path)
	}
	if err != nil {
		var permErr *imaging.PermissionError
		if errors.As(err, &permErr) {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s access denied; grant it in %s and retry\n", permErr.Resource, permErr.SettingsURL)
		}
		return err
	}
	if image == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "no image selected")
		return nil
	}
	defer func() {
		if err := image.Remove(); err != nil {
			logger.Warn("failed to remove normalized image", zap.String("path", image.Path), zap.Error(err))
		}
	}()

	req := usecase.SubmitRequest{Image: image, SpotID: opts.spotID}
	if opts.location != "" {
		req.Location = &opts.location
	}

	result, err := a.uc.Submit(session.Bind(ctx), req)
	if err != nil {
		logger.Error("scan failed", zap.Error(err))
		return err
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}
